package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FrameStats is one diagnostics record, sampled at the end of a frame.
type FrameStats struct {
	Frame   int64   `csv:"frame"`
	SimTime float64 `csv:"sim_time"`

	// Population at frame end
	Particles int `csv:"particles"`
	Attached  int `csv:"attached"`

	// Contacts and events during the frame
	Contacts int `csv:"contacts"`
	Events   int `csv:"events"`

	// Attachment transitions during the frame
	Attaches int `csv:"attaches"`
	Switches int `csv:"switches"`
	Detaches int `csv:"detaches"`

	// Density distribution, kg/m^3
	DensityMean float64 `csv:"density_mean"`
	DensityStd  float64 `csv:"density_std"`
	DensityP10  float64 `csv:"density_p10"`
	DensityP50  float64 `csv:"density_p50"`
	DensityP90  float64 `csv:"density_p90"`
	DensityMax  float64 `csv:"density_max"`

	MaxSpeed float64 `csv:"max_speed"`
	Repaired int     `csv:"repaired"` // non-finite particles reset
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Distribution summarizes a sample.
type Distribution struct {
	Mean, Std     float64
	P10, P50, P90 float64
	Max           float64
}

// Summarize computes mean, sample standard deviation, percentiles and max.
// values is not modified.
func Summarize(values []float64) Distribution {
	n := len(values)
	if n == 0 {
		return Distribution{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var d Distribution
	if n == 1 {
		d.Mean = sorted[0]
	} else {
		d.Mean, d.Std = stat.MeanStdDev(sorted, nil)
	}
	d.P10 = Percentile(sorted, 0.10)
	d.P50 = Percentile(sorted, 0.50)
	d.P90 = Percentile(sorted, 0.90)
	d.Max = sorted[n-1]
	return d
}

// SetDensity fills the density columns from a distribution.
func (s *FrameStats) SetDensity(d Distribution) {
	s.DensityMean = d.Mean
	s.DensityStd = d.Std
	s.DensityP10 = d.P10
	s.DensityP50 = d.P50
	s.DensityP90 = d.P90
	s.DensityMax = d.Max
}

// LogValue implements slog.LogValuer for structured logging.
func (s FrameStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("frame", s.Frame),
		slog.Float64("sim_time", s.SimTime),
		slog.Int("particles", s.Particles),
		slog.Int("attached", s.Attached),
		slog.Int("contacts", s.Contacts),
		slog.Int("events", s.Events),
		slog.Int("attaches", s.Attaches),
		slog.Int("switches", s.Switches),
		slog.Int("detaches", s.Detaches),
		slog.Float64("density_mean", s.DensityMean),
		slog.Float64("density_std", s.DensityStd),
		slog.Float64("density_p50", s.DensityP50),
		slog.Float64("density_max", s.DensityMax),
		slog.Float64("max_speed", s.MaxSpeed),
		slog.Int("repaired", s.Repaired),
	)
}

// LogStats logs the frame stats using slog.
func (s FrameStats) LogStats() {
	slog.Info("stats", "frame", s)
}
