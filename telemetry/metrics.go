package telemetry

// Metrics receives solver counters as a frame runs. *Collector implements it;
// hosts may forward to their own metrics backend.
type Metrics interface {
	RecordContacts(n int)
	RecordEvents(n int)
	RecordAttachments(attached, switched, detached int)
	RecordRepaired(n int)
	ObserveSpeed(speed float64)
}

var _ Metrics = (*Collector)(nil)

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordContacts(int)              {}
func (NopMetrics) RecordEvents(int)                {}
func (NopMetrics) RecordAttachments(int, int, int) {}
func (NopMetrics) RecordRepaired(int)              {}
func (NopMetrics) ObserveSpeed(float64)            {}
