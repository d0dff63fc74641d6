package telemetry

import (
	"log/slog"
	"time"
)

// Phase names for one simulation frame. Phases repeated by several substeps
// accumulate into one duration.
const (
	PhaseBVH           = "bvh_update"
	PhasePredict       = "predict"
	PhaseHash          = "hash"
	PhaseDensity       = "density"
	PhaseCollision     = "collision"
	PhasePolygon       = "per_polygon"
	PhaseFinalize      = "finalize"
	PhaseViscosity     = "viscosity"
	PhaseAdhesion      = "adhesion"
	PhaseStackPressure = "stack_pressure"
	PhaseEvents        = "events"
)

// Phases lists every phase in pipeline order.
var Phases = []string{
	PhaseBVH, PhasePredict, PhaseHash, PhaseDensity, PhaseCollision, PhasePolygon,
	PhaseFinalize, PhaseViscosity, PhaseAdhesion, PhaseStackPressure, PhaseEvents,
}

// PerfSample holds timing data for a single frame.
type PerfSample struct {
	FrameDuration time.Duration
	Phases        map[string]time.Duration
}

// PerfCollector tracks phase timings over a rolling window of frames.
type PerfCollector struct {
	windowSize    int
	samples       []PerfSample
	writeIndex    int
	sampleCount   int
	currentPhases map[string]time.Duration
	frameStart    time.Time
	phaseStart    time.Time
	lastPhase     string
}

// NewPerfCollector creates a collector averaging over windowSize frames.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration),
	}
}

// StartFrame begins timing a new frame.
func (p *PerfCollector) StartFrame() {
	if p == nil {
		return
	}
	p.frameStart = time.Now()
	p.currentPhases = make(map[string]time.Duration, len(Phases))
	p.lastPhase = ""
}

// StartPhase ends the running phase, if any, and starts timing phase.
func (p *PerfCollector) StartPhase(phase string) {
	if p == nil {
		return
	}
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndFrame closes the running phase and records the sample.
func (p *PerfCollector) EndFrame() {
	if p == nil {
		return
	}
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
		p.lastPhase = ""
	}

	p.samples[p.writeIndex] = PerfSample{
		FrameDuration: now.Sub(p.frameStart),
		Phases:        p.currentPhases,
	}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// Last returns the most recent sample.
func (p *PerfCollector) Last() PerfSample {
	if p == nil || p.sampleCount == 0 {
		return PerfSample{}
	}
	return p.samples[(p.writeIndex+p.windowSize-1)%p.windowSize]
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	AvgFrame time.Duration
	MinFrame time.Duration
	MaxFrame time.Duration

	// Average duration per phase and its share of the average frame
	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64

	FramesPerSecond float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	stats := PerfStats{
		PhaseAvg: make(map[string]time.Duration),
		PhasePct: make(map[string]float64),
	}
	if p == nil || p.sampleCount == 0 {
		return stats
	}

	var total time.Duration
	phaseSum := make(map[string]time.Duration)
	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		total += s.FrameDuration
		if i == 0 || s.FrameDuration < stats.MinFrame {
			stats.MinFrame = s.FrameDuration
		}
		if s.FrameDuration > stats.MaxFrame {
			stats.MaxFrame = s.FrameDuration
		}
		for phase, d := range s.Phases {
			phaseSum[phase] += d
		}
	}

	n := time.Duration(p.sampleCount)
	stats.AvgFrame = total / n
	for phase, sum := range phaseSum {
		stats.PhaseAvg[phase] = sum / n
		if stats.AvgFrame > 0 {
			stats.PhasePct[phase] = float64(stats.PhaseAvg[phase]) / float64(stats.AvgFrame) * 100
		}
	}
	if stats.AvgFrame > 0 {
		stats.FramesPerSecond = float64(time.Second) / float64(stats.AvgFrame)
	}
	return stats
}

// LogValue implements slog.LogValuer.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_frame_us", s.AvgFrame.Microseconds()),
		slog.Int64("min_frame_us", s.MinFrame.Microseconds()),
		slog.Int64("max_frame_us", s.MaxFrame.Microseconds()),
		slog.Float64("frames_per_sec", s.FramesPerSecond),
	}
	for _, phase := range Phases {
		if pct, ok := s.PhasePct[phase]; ok && pct > 0.1 {
			attrs = append(attrs, slog.Float64(phase+"_pct", float64(int(pct*10))/10))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat record for CSV export.
type PerfStatsCSV struct {
	Frame            int64   `csv:"frame"`
	AvgFrameUS       int64   `csv:"avg_frame_us"`
	MinFrameUS       int64   `csv:"min_frame_us"`
	MaxFrameUS       int64   `csv:"max_frame_us"`
	FramesPerSec     float64 `csv:"frames_per_sec"`
	BVHPct           float64 `csv:"bvh_update_pct"`
	PredictPct       float64 `csv:"predict_pct"`
	HashPct          float64 `csv:"hash_pct"`
	DensityPct       float64 `csv:"density_pct"`
	CollisionPct     float64 `csv:"collision_pct"`
	PolygonPct       float64 `csv:"per_polygon_pct"`
	FinalizePct      float64 `csv:"finalize_pct"`
	ViscosityPct     float64 `csv:"viscosity_pct"`
	AdhesionPct      float64 `csv:"adhesion_pct"`
	StackPressurePct float64 `csv:"stack_pressure_pct"`
	EventsPct        float64 `csv:"events_pct"`
}

// ToCSV flattens the stats for the record at frame.
func (s PerfStats) ToCSV(frame int64) PerfStatsCSV {
	return PerfStatsCSV{
		Frame:            frame,
		AvgFrameUS:       s.AvgFrame.Microseconds(),
		MinFrameUS:       s.MinFrame.Microseconds(),
		MaxFrameUS:       s.MaxFrame.Microseconds(),
		FramesPerSec:     s.FramesPerSecond,
		BVHPct:           s.PhasePct[PhaseBVH],
		PredictPct:       s.PhasePct[PhasePredict],
		HashPct:          s.PhasePct[PhaseHash],
		DensityPct:       s.PhasePct[PhaseDensity],
		CollisionPct:     s.PhasePct[PhaseCollision],
		PolygonPct:       s.PhasePct[PhasePolygon],
		FinalizePct:      s.PhasePct[PhaseFinalize],
		ViscosityPct:     s.PhasePct[PhaseViscosity],
		AdhesionPct:      s.PhasePct[PhaseAdhesion],
		StackPressurePct: s.PhasePct[PhaseStackPressure],
		EventsPct:        s.PhasePct[PhaseEvents],
	}
}
