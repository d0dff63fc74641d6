package telemetry

// Collector accumulates solver counters over a window of frames and produces
// FrameStats.
type Collector struct {
	windowFrames int64

	// Current window tracking
	windowStart int64

	// Counters for the current window
	contacts int
	events   int
	attaches int
	switches int
	detaches int
	repaired int
	maxSpeed float64
}

// NewCollector creates a collector that flushes every windowFrames frames.
func NewCollector(windowFrames int) *Collector {
	if windowFrames < 1 {
		windowFrames = 1
	}
	return &Collector{windowFrames: int64(windowFrames)}
}

// RecordContacts records particles touching a collider during a substep.
func (c *Collector) RecordContacts(n int) {
	c.contacts += n
}

// RecordEvents records emitted collision events.
func (c *Collector) RecordEvents(n int) {
	c.events += n
}

// RecordAttachments records attachment transitions.
func (c *Collector) RecordAttachments(attached, switched, detached int) {
	c.attaches += attached
	c.switches += switched
	c.detaches += detached
}

// RecordRepaired records particles reset by the finite-value guard.
func (c *Collector) RecordRepaired(n int) {
	c.repaired += n
}

// ObserveSpeed tracks the largest particle speed in the window.
func (c *Collector) ObserveSpeed(speed float64) {
	if speed > c.maxSpeed {
		c.maxSpeed = speed
	}
}

// ShouldFlush returns true if enough frames have passed to flush the window.
func (c *Collector) ShouldFlush(frame int64) bool {
	return frame-c.windowStart >= c.windowFrames
}

// Flush produces a FrameStats and resets counters for the next window.
// densities is sampled at the current frame and not modified.
func (c *Collector) Flush(frame int64, simTime float64, particles, attached int, densities []float64) FrameStats {
	stats := FrameStats{
		Frame:     frame,
		SimTime:   simTime,
		Particles: particles,
		Attached:  attached,
		Contacts:  c.contacts,
		Events:    c.events,
		Attaches:  c.attaches,
		Switches:  c.switches,
		Detaches:  c.detaches,
		MaxSpeed:  c.maxSpeed,
		Repaired:  c.repaired,
	}
	stats.SetDensity(Summarize(densities))

	*c = Collector{windowFrames: c.windowFrames, windowStart: frame}
	return stats
}
