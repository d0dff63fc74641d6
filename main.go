package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/config"
	"github.com/pthm-cable/drip/sim"
	"github.com/pthm-cable/drip/systems"
	"github.com/pthm-cable/drip/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	overridesPath := flag.String("overrides", "", "Path to a YAML file of per-instance fluid preset overrides")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	snapshotEvery := flag.Int("snapshot-every", 0, "Write a particle snapshot every N frames (0 = never, needs -output-dir)")
	seed := flag.Int64("seed", 0, "Turbulence seed (0 = time-based)")
	maxFrames := flag.Int("max-frames", 600, "Stop after N frames")
	blockSize := flag.Int("block", 12, "Particles per side of the falling block")
	turbulence := flag.Float64("turbulence", 150, "Turbulence strength in world units / s^2 (0 = off)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()
	overrides, err := config.LoadOverrides(*overridesPath)
	if err != nil {
		slog.Error("failed to load overrides", "error", err)
		os.Exit(1)
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	collector := telemetry.NewCollector(cfg.Telemetry.StatsEvery)
	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow)
	s, err := sim.New(cfg, sim.Options{Metrics: collector, Perf: perf, Overrides: &overrides})
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	defer s.Close()
	cfg = s.Config()

	output, err := telemetry.NewOutputManager(*outputDir)
	if err != nil {
		slog.Error("failed to create output directory", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := output.Close(); err != nil {
			slog.Error("failed to close output", "error", err)
		}
	}()
	if err := output.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config", "error", err)
	}

	sc, err := newScenario(s)
	if err != nil {
		slog.Error("failed to build scene", "error", err)
		os.Exit(1)
	}
	if *turbulence > 0 {
		s.SetForceField(systems.NewTurbulence(rngSeed, 40, *turbulence, 0.5))
	}

	spacing := cfg.Fluid.SpacingRatio * cfg.Fluid.SmoothingRadius
	half := float64(*blockSize) * spacing / 2
	if _, err := s.Spawn(blockPositions(r3.Vec{X: -half, Y: -half, Z: 60}, *blockSize, spacing), nil, 1); err != nil {
		slog.Error("spawn failed", "error", err)
		os.Exit(1)
	}

	slog.Info("starting simulation",
		"seed", rngSeed,
		"particles", s.Len(),
		"colliders", s.Scene().Len(),
		"max_frames", *maxFrames,
	)

	for s.Frame() < int64(*maxFrames) {
		sc.animate(s.Time())
		if err := s.Step(cfg.Sim.FrameDT); err != nil {
			slog.Error("step failed", "frame", s.Frame(), "error", err)
			os.Exit(1)
		}
		if err := output.WriteEvents(s.TelemetryEvents()); err != nil {
			slog.Error("failed to write events", "error", err)
		}
		flushTelemetry(s, collector, perf, output, *logStats)

		if *snapshotEvery > 0 && s.Frame()%int64(*snapshotEvery) == 0 {
			if _, err := output.WriteSnapshot(s.Snapshot()); err != nil {
				slog.Error("failed to write snapshot", "error", err)
			}
		}
	}
	slog.Info("max frames reached", "frame", s.Frame(), "sim_time", s.Time())
}

// flushTelemetry writes a stats window when the collector is due.
func flushTelemetry(s *sim.Simulation, collector *telemetry.Collector, perf *telemetry.PerfCollector, output *telemetry.OutputManager, logStats bool) {
	if !collector.ShouldFlush(s.Frame()) {
		return
	}

	attached := 0
	for _, p := range s.Particles() {
		if p.Attached {
			attached++
		}
	}
	stats := collector.Flush(s.Frame(), s.Time(), s.Len(), attached, s.Densities())
	perfStats := perf.Stats()

	if logStats {
		stats.LogStats()
		slog.Info("perf", "stats", perfStats)
	}

	if err := output.WriteFrame(stats); err != nil {
		slog.Error("failed to write frame stats", "error", err)
	}
	if err := output.WritePerf(perfStats, stats.Frame); err != nil {
		slog.Error("failed to write perf", "error", err)
	}
}
