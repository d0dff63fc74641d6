package systems

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/components"
)

// ForceField returns an external acceleration at a position and time.
type ForceField interface {
	At(p r3.Vec, t float64) r3.Vec
}

// IntegrateStats counts events of the predict and finalize stages.
type IntegrateStats struct {
	Released int // attachments whose owner no longer resolves
	Repaired int // particles reset by the non-finite guard
}

// Integrator runs the predict and finalize stages.
type Integrator struct {
	Gravity     r3.Vec
	SlideFactor float64
	Table       *AttachmentTable

	released []bool
}

// Predict clears the one-substep flags, applies gravity and external
// acceleration, and writes predicted positions. Attached particles are carried
// by their anchor and only feel the tangential part of gravity scaled by
// SlideFactor. Attachments whose owner is gone are released.
func (in *Integrator) Predict(particles []components.Particle, frame *Frame, external r3.Vec, field ForceField, dt, now float64, pool *Pool) IntegrateStats {
	var stats IntegrateStats
	n := len(particles)
	in.released = growSlice(in.released, n)

	pool.For(n, func(start, end int) {
		for i := start; i < end; i++ {
			p := &particles[i]
			p.JustDetached = false
			p.NearGround = false
			in.released[i] = false

			acc := external
			if field != nil {
				acc = r3.Add(acc, field.At(p.Position, now))
			}

			if p.Attached {
				if in.predictAttached(p, frame, acc, dt) {
					continue
				}
				in.released[i] = true
			}

			p.Velocity = addScaled(p.Velocity, dt, r3.Add(in.Gravity, acc))
			p.Predicted = addScaled(p.Position, dt, p.Velocity)
		}
	})

	for i := range particles {
		if in.released[i] {
			in.Table.Detach(&particles[i])
			stats.Released++
		}
	}
	return stats
}

// predictAttached moves an attached particle with its anchor. It returns false
// when the attachment can no longer be resolved.
func (in *Integrator) predictAttached(p *components.Particle, frame *Frame, acc r3.Vec, dt float64) bool {
	if in.Table == nil {
		return false
	}
	rec, ok := in.Table.Get(p.ID)
	if !ok {
		return false
	}
	entry, ok := frame.Lookup(rec.Owner)
	if !ok {
		return false
	}

	carry := r3.Sub(Anchor(entry, rec), p.Position)
	if !finite(carry) {
		return false
	}

	// Velocity relative to the owner; the carry from the last substep is
	// already part of the particle's velocity.
	rel := r3.Sub(p.Velocity, r3.Scale(1/dt, rec.Carry))
	slide := r3.Scale(in.SlideFactor, tangential(in.Gravity, unitOr(rec.Normal, r3.Vec{Z: 1})))
	rel = addScaled(rel, dt, r3.Add(slide, acc))

	rec.Carry = carry
	p.Velocity = r3.Add(rel, r3.Scale(1/dt, carry))
	p.Predicted = addScaled(r3.Add(p.Position, carry), dt, rel)
	return true
}

// Guard restores any particle whose predicted position or velocity is not
// finite to its current position at rest.
func (in *Integrator) Guard(particles []components.Particle) int {
	n := 0
	for i := range particles {
		p := &particles[i]
		if finite(p.Predicted) && finite(p.Position) && finite(p.Velocity) {
			continue
		}
		if !finite(p.Position) {
			p.Position = r3.Vec{}
		}
		p.Predicted = p.Position
		p.Velocity = r3.Vec{}
		p.Lambda = 0
		n++
	}
	return n
}

// Finalize derives velocity from the position change and commits predicted
// positions.
func (in *Integrator) Finalize(particles []components.Particle, dt float64, pool *Pool) {
	inv := 1 / dt
	pool.For(len(particles), func(start, end int) {
		for i := start; i < end; i++ {
			p := &particles[i]
			p.Velocity = r3.Scale(inv, r3.Sub(p.Predicted, p.Position))
			p.Position = p.Predicted
		}
	})
}
