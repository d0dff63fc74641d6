// Package sim runs the fluid solver: it owns the particles and the scene of
// colliders and sequences the solver stages every substep.
package sim

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/components"
	"github.com/pthm-cable/drip/config"
	"github.com/pthm-cable/drip/systems"
	"github.com/pthm-cable/drip/telemetry"
)

// ErrInvalidTimestep is returned by Step for a non-positive or non-finite dt.
var ErrInvalidTimestep = errors.New("invalid timestep")

// Options holds optional collaborators. The zero value is valid.
type Options struct {
	// Metrics receives per-frame counters. Nil discards them.
	Metrics telemetry.Metrics
	// Perf records phase timings. Nil disables timing.
	Perf *telemetry.PerfCollector
	// OnCollision is called after each frame for every emitted event.
	OnCollision func(CollisionEvent)
	// Overrides replaces preset fields for this instance only.
	Overrides *config.PresetOverrides
}

// frameCounters are the per-frame totals kept for Stats.
type frameCounters struct {
	contacts int
	events   int
	attaches int
	switches int
	detaches int
	repaired int
}

// Simulation is one fluid instance. It is not safe for concurrent use; the
// solver stages parallelize internally.
type Simulation struct {
	cfg     *config.Config
	kernels systems.Kernels
	mass    float64
	pool    *systems.Pool

	scene *Scene
	bvh   *BVHCache

	table      *systems.AttachmentTable
	integrator *systems.Integrator
	hash       *systems.SpatialHash
	density    *systems.DensitySolver
	viscosity  *systems.ViscositySolver
	adhesion   *systems.AdhesionSolver
	stack      *systems.StackPressureSolver
	collision  *systems.CollisionSolver
	polygon    *systems.PerPolygonProcessor

	particles []components.Particle
	nextID    uint64

	externalForce r3.Vec // accumulated until the next Step
	field         systems.ForceField

	frame int64
	time  float64

	entries []systems.ColliderEntry
	events  []CollisionEvent
	last    frameCounters

	metrics     telemetry.Metrics
	perf        *telemetry.PerfCollector
	onCollision func(CollisionEvent)
}

// New validates cfg and builds a simulation. Options.Overrides are applied to
// a copy of cfg first. An invalid configuration is rejected with an error
// wrapping config.ErrInvalidPreset.
func New(cfg *config.Config, opts Options) (*Simulation, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrInvalidPreset)
	}
	if opts.Overrides != nil {
		var err error
		if cfg, err = cfg.WithOverrides(*opts.Overrides); err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	k := systems.NewKernels(cfg.Fluid.SmoothingRadius, cfg.Fluid.UnitScale)
	table := systems.NewAttachmentTable()
	collision := systems.NewCollisionSolver(cfg)

	s := &Simulation{
		cfg:     cfg,
		kernels: k,
		mass:    cfg.Fluid.Mass(),
		pool:    systems.NewPool(cfg.Solver.Workers, cfg.Solver.ParallelThreshold),
		scene:   NewScene(),
		bvh:     NewBVHCache(),
		table:   table,
		integrator: &systems.Integrator{
			Gravity:     cfg.Fluid.GravityVec(),
			SlideFactor: cfg.Adhesion.SlideFactor,
			Table:       table,
		},
		hash:        systems.NewSpatialHash(cfg.Fluid.SmoothingRadius, cfg.Solver.MaxNeighbors),
		density:     systems.NewDensitySolver(cfg, k),
		viscosity:   systems.NewViscositySolver(k, cfg.Fluid.Viscosity),
		adhesion:    systems.NewAdhesionSolver(cfg, k, table),
		stack:       systems.NewStackPressureSolver(cfg, k, table),
		collision:   collision,
		polygon:     systems.NewPerPolygonProcessor(cfg, k, collision, table),
		metrics:     opts.Metrics,
		perf:        opts.Perf,
		onCollision: opts.OnCollision,
	}
	if s.metrics == nil {
		s.metrics = telemetry.NopMetrics{}
	}
	return s, nil
}

// Close stops the worker pool. The simulation restarts it if stepped again.
func (s *Simulation) Close() {
	s.pool.Stop()
}

// Scene returns the collider registry.
func (s *Simulation) Scene() *Scene { return s.scene }

// Config returns the configuration the simulation was built with.
func (s *Simulation) Config() *config.Config { return s.cfg }

// Particles returns the live particles. The slice is owned by the simulation
// and valid until the next mutating call.
func (s *Simulation) Particles() []components.Particle { return s.particles }

// Len returns the number of live particles.
func (s *Simulation) Len() int { return len(s.particles) }

// Frame returns the number of completed frames.
func (s *Simulation) Frame() int64 { return s.frame }

// Time returns the simulated time in seconds.
func (s *Simulation) Time() float64 { return s.time }

// Events returns the collision events emitted during the last frame.
func (s *Simulation) Events() []CollisionEvent { return s.events }

// Attachment returns a copy of the attachment record of particle id. It
// reports false for unknown or free particles.
func (s *Simulation) Attachment(id uint64) (components.Attachment, bool) {
	i, ok := s.index(id)
	if !ok || !s.particles[i].Attached {
		return components.Attachment{}, false
	}
	rec, ok := s.table.Get(id)
	if !ok {
		return components.Attachment{}, false
	}
	return *rec, true
}

// AddExternalForce accumulates a force, in kg world units / s^2, applied to
// every particle during the next Step and then cleared.
func (s *Simulation) AddExternalForce(f r3.Vec) {
	s.externalForce = r3.Add(s.externalForce, f)
}

// SetForceField installs a position-dependent acceleration applied every
// substep. Nil removes it.
func (s *Simulation) SetForceField(f systems.ForceField) {
	s.field = f
}

// Step advances the simulation by dt seconds in Solver.Substeps substeps. An
// invalid dt is rejected before any particle is touched.
func (s *Simulation) Step(dt float64) error {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return fmt.Errorf("%w: %g", ErrInvalidTimestep, dt)
	}

	s.perf.StartFrame()
	s.perf.StartPhase(telemetry.PhaseBVH)
	s.scene.syncCache(s.bvh, &s.cfg.Polygon)
	s.bvh.Update(s.pool)
	s.entries = s.scene.BuildEntries(s.entries[:0], s.cfg, s.bvh)
	frame := systems.NewFrame(s.entries)

	s.last = frameCounters{}
	s.events = s.events[:0]
	s.tickCooldowns(dt)

	external := r3.Scale(1/s.mass, s.externalForce)
	substeps := s.cfg.Solver.Substeps
	sub := dt / float64(substeps)
	for i := 0; i < substeps; i++ {
		s.substep(frame, external, sub)
	}
	s.externalForce = r3.Vec{}
	s.frame++

	s.perf.StartPhase(telemetry.PhaseEvents)
	s.report()
	s.perf.EndFrame()
	return nil
}

// substep runs the solver stages in their fixed order.
func (s *Simulation) substep(frame *systems.Frame, external r3.Vec, dt float64) {
	ps := s.particles
	now := s.time

	s.perf.StartPhase(telemetry.PhasePredict)
	is := s.integrator.Predict(ps, frame, external, s.field, dt, now, s.pool)
	s.last.detaches += is.Released
	s.last.repaired += s.integrator.Guard(ps)

	s.perf.StartPhase(telemetry.PhaseHash)
	s.hash.BuildNeighborLists(ps, s.cfg.Fluid.SmoothingRadius, s.pool)

	s.perf.StartPhase(telemetry.PhaseDensity)
	s.density.ResetLambda(ps)
	s.density.Solve(ps, dt, s.cfg.Solver.Iterations, s.pool)

	s.perf.StartPhase(telemetry.PhaseCollision)
	s.collision.Reset(len(ps))
	s.collision.Resolve(ps, frame, dt, s.pool)

	if s.cfg.Polygon.Enabled {
		s.perf.StartPhase(telemetry.PhasePolygon)
		for e := range frame.Entries {
			entry := &frame.Entries[e]
			if !entry.PerPolygon || !entry.Matches(s.collision.Channel) {
				continue
			}
			cand := s.polygon.Candidates(ps, entry)
			s.polygon.Resolve(ps, entry, cand, dt, now, s.pool)
		}
		s.last.attaches += s.polygon.Commit(ps)
	}
	s.last.contacts += s.collision.Contacts()

	s.perf.StartPhase(telemetry.PhaseEvents)
	s.collectEvents(now)

	s.perf.StartPhase(telemetry.PhaseFinalize)
	s.integrator.Finalize(ps, dt, s.pool)

	s.perf.StartPhase(telemetry.PhaseViscosity)
	s.viscosity.Apply(ps, s.pool)

	s.perf.StartPhase(telemetry.PhaseAdhesion)
	as := s.adhesion.Apply(ps, frame, dt, now+dt, s.pool)
	s.last.attaches += as.Attached
	s.last.switches += as.Switched
	s.last.detaches += as.Detached

	if s.cfg.StackPressure.Enabled {
		s.perf.StartPhase(telemetry.PhaseStackPressure)
		s.stack.Apply(ps, dt, s.pool)
	}

	s.time += dt
}

// report forwards the frame's counters and events.
func (s *Simulation) report() {
	c := s.last
	s.metrics.RecordContacts(c.contacts)
	s.metrics.RecordEvents(c.events)
	s.metrics.RecordAttachments(c.attaches, c.switches, c.detaches)
	s.metrics.RecordRepaired(c.repaired)
	s.metrics.ObserveSpeed(s.maxSpeed())

	if s.onCollision != nil {
		for _, ev := range s.events {
			s.onCollision(ev)
		}
	}
}

func (s *Simulation) maxSpeed() float64 {
	var v2 float64
	for i := range s.particles {
		v2 = math.Max(v2, r3.Norm2(s.particles[i].Velocity))
	}
	return math.Sqrt(v2)
}

// Stats summarizes the last frame.
func (s *Simulation) Stats() telemetry.FrameStats {
	c := s.last
	stats := telemetry.FrameStats{
		Frame:     s.frame,
		SimTime:   s.time,
		Particles: len(s.particles),
		Attached:  s.table.Len(),
		Contacts:  c.contacts,
		Events:    c.events,
		Attaches:  c.attaches,
		Switches:  c.switches,
		Detaches:  c.detaches,
		MaxSpeed:  s.maxSpeed(),
		Repaired:  c.repaired,
	}
	stats.SetDensity(telemetry.Summarize(s.Densities()))
	return stats
}

// Densities returns the density of every particle in particle order.
func (s *Simulation) Densities() []float64 {
	out := make([]float64, len(s.particles))
	for i := range s.particles {
		out[i] = s.particles[i].Density
	}
	return out
}

// Snapshot copies the externally visible particle state.
func (s *Simulation) Snapshot() *telemetry.Snapshot {
	snap := &telemetry.Snapshot{
		Version:   telemetry.SnapshotVersion,
		Frame:     s.frame,
		Time:      s.time,
		Particles: make([]telemetry.ParticleState, len(s.particles)),
	}
	for i := range s.particles {
		p := &s.particles[i]
		st := telemetry.ParticleState{
			ID:       p.ID,
			SourceID: p.SourceID,
			Position: p.Position,
			Velocity: p.Velocity,
			Density:  p.Density,
			Attached: p.Attached,
		}
		if rec, ok := s.Attachment(p.ID); ok {
			st.Attachment = telemetry.AttachmentState{
				Owner:       rec.Owner,
				Kind:        rec.Kind.String(),
				Bone:        rec.Bone,
				Triangle:    rec.Triangle,
				LocalOffset: rec.LocalOffset,
				Normal:      rec.Normal,
			}
		}
		snap.Particles[i] = st
	}
	return snap
}
