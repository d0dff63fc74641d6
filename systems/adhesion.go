package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/collider"
	"github.com/pthm-cable/drip/components"
	"github.com/pthm-cable/drip/config"
)

// AdhesionStats counts attachment transitions during one pass.
type AdhesionStats struct {
	Attached int
	Switched int
	Detached int
}

// adhesionResult is the private read-phase output for one particle.
type adhesionResult struct {
	accel r3.Vec

	cand     int // entry index of the nearest attachable surface, -1 for none
	candSurf collider.Surface
	candGap  float64

	rec       *components.Attachment
	owner     *ColliderEntry
	ownerGone bool
	cur       collider.Surface
	curGap    float64
	curOK     bool
}

// AdhesionSolver pulls particles toward nearby surfaces, applies cohesion
// between neighbours and runs the attach/detach state machine.
type AdhesionSolver struct {
	Kernels     Kernels
	Cfg         config.AdhesionConfig
	Radius      float64 // particle radius, world units
	Channel     uint32
	Cohesion    float64
	RestDensity float64
	Table       *AttachmentTable

	results []adhesionResult
}

// NewAdhesionSolver builds a solver from the configuration.
func NewAdhesionSolver(cfg *config.Config, k Kernels, table *AttachmentTable) *AdhesionSolver {
	return &AdhesionSolver{
		Kernels:     k,
		Cfg:         cfg.Adhesion,
		Radius:      cfg.Fluid.ParticleRadius,
		Channel:     cfg.Fluid.CollisionChannel,
		Cohesion:    cfg.Fluid.Cohesion,
		RestDensity: cfg.Fluid.RestDensity,
		Table:       table,
	}
}

// maintainMargin is the release threshold for an attached particle.
func (s *AdhesionSolver) maintainMargin(p *components.Particle) float64 {
	if p.NearGround {
		return s.Cfg.NearGroundMaintainMargin
	}
	return s.Cfg.MaintainMargin
}

// Apply runs after viscosity on finalized positions. Forces are gathered in
// parallel into private slots; velocity updates and attachment transitions
// are committed serially.
func (s *AdhesionSolver) Apply(particles []components.Particle, frame *Frame, dt, now float64, pool *Pool) AdhesionStats {
	var stats AdhesionStats
	n := len(particles)
	if n == 0 {
		return stats
	}
	s.results = growSlice(s.results, n)

	pool.For(n, func(start, end int) {
		for i := start; i < end; i++ {
			s.gather(particles, i, frame, &s.results[i])
		}
	})

	for i := range particles {
		p := &particles[i]
		r := &s.results[i]
		p.Velocity = addScaled(p.Velocity, dt, r.accel)
		if s.Cfg.Enabled {
			s.transition(p, r, frame, now, &stats)
		}
	}
	return stats
}

func (s *AdhesionSolver) gather(particles []components.Particle, i int, frame *Frame, r *adhesionResult) {
	*r = adhesionResult{cand: -1, candGap: math.Inf(1), curGap: math.Inf(1)}
	p := &particles[i]
	x := p.Predicted
	k := &s.Kernels

	if s.Cfg.Enabled && frame != nil {
		reach := s.Radius + s.Cfg.AdhesionMargin
		for e := range frame.Entries {
			entry := &frame.Entries[e]
			if !entry.Matches(s.Channel) || !nearBox(entry.Bounds, x, reach) {
				continue
			}
			surf, ok := collider.Query(entry.Shape, x, reach)
			if !ok {
				continue
			}
			gap := surf.Distance - s.Radius
			if gap > s.Cfg.AdhesionMargin {
				continue
			}

			strength := entry.Response.Adhesion
			if strength > 0 {
				dist := math.Max(gap, 0)*k.Scale + s.Cfg.ContactOffsetRatio*k.H
				mag := strength * k.Adhesion(dist) / k.Scale
				r.accel = addScaled(r.accel, -mag, surf.Normal)
			}
			if strength >= s.Cfg.MinAttachStrength && gap < r.candGap {
				r.cand, r.candSurf, r.candGap = e, surf, gap
			}
		}

		if p.Attached {
			s.gatherCurrent(p, frame, r)
		}
	}

	if s.Cfg.CohesionEnabled && s.Cohesion > 0 {
		r.accel = r3.Add(r.accel, s.cohesion(particles, i))
	}
}

// gatherCurrent measures the particle against the owner it is attached to.
func (s *AdhesionSolver) gatherCurrent(p *components.Particle, frame *Frame, r *adhesionResult) {
	rec, ok := s.Table.Get(p.ID)
	if !ok {
		return
	}
	r.rec = rec
	owner, ok := frame.Lookup(rec.Owner)
	if !ok {
		r.ownerGone = true
		return
	}
	r.owner = owner
	reach := s.Radius + math.Max(s.Cfg.MaintainMargin, s.Cfg.NearGroundMaintainMargin)
	if cur, ok := collider.Query(owner.Shape, p.Predicted, reach); ok {
		r.cur, r.curGap, r.curOK = cur, cur.Distance-s.Radius, true
	}
}

// transition commits the attachment state machine for one particle.
func (s *AdhesionSolver) transition(p *components.Particle, r *adhesionResult, frame *Frame, now float64, stats *AdhesionStats) {
	x := p.Predicted

	if p.Attached && r.rec == nil {
		// Flag without a record, e.g. after the table was cleared
		p.Attached = false
	}

	if !p.Attached {
		if p.JustDetached || r.cand < 0 || r.candGap > s.Cfg.AttachMargin {
			return
		}
		entry := &frame.Entries[r.cand]
		s.Table.Attach(p, NewAttachment(entry, r.candSurf, x, now))
		stats.Attached++
		return
	}

	if r.ownerGone {
		s.Table.Detach(p)
		stats.Detached++
		return
	}

	rec := r.rec
	if r.cand >= 0 && r.candGap <= s.Cfg.SwitchMargin && (!r.curOK || r.candGap < r.curGap) {
		next := NewAttachment(&frame.Entries[r.cand], r.candSurf, x, now)
		if !next.SameFeature(rec) {
			next.Carry = rec.Carry
			s.Table.Set(p.ID, next)
			stats.Switched++
			return
		}
	}

	if !r.curOK || r.curGap > s.maintainMargin(p) {
		s.Table.Detach(p)
		stats.Detached++
		return
	}

	if r.cur.Bone == rec.Bone {
		next := NewAttachment(r.owner, r.cur, x, now)
		next.Carry = rec.Carry
		*rec = next
		return
	}
	Rerecord(r.owner, rec, x, now)
}

// cohesion returns the Akinci cohesion acceleration on particle i.
func (s *AdhesionSolver) cohesion(particles []components.Particle, i int) r3.Vec {
	p := &particles[i]
	k := &s.Kernels
	var acc r3.Vec
	for _, j := range p.Neighbors {
		q := &particles[j]
		d := k.ToMetres(r3.Sub(p.Predicted, q.Predicted))
		dist := r3.Norm(d)
		if dist < 1e-12 {
			continue
		}
		c := k.Cohesion(dist)
		if c == 0 {
			continue
		}
		correction := 1.0
		if sum := p.Density + q.Density; sum > 0 {
			correction = 2 * s.RestDensity / sum
		}
		acc = addScaled(acc, -s.Cohesion*correction*q.Mass*c/dist, d)
	}
	return r3.Scale(1/k.Scale, acc)
}

// nearBox reports whether p lies within d of box b.
func nearBox(b r3.Box, p r3.Vec, d float64) bool {
	return p.X >= b.Min.X-d && p.X <= b.Max.X+d &&
		p.Y >= b.Min.Y-d && p.Y <= b.Max.Y+d &&
		p.Z >= b.Min.Z-d && p.Z <= b.Max.Z+d
}
