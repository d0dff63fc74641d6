package sim

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/components"
)

// ErrSpawnMismatch is returned when a spawn request has a velocity count that
// does not match its positions.
var ErrSpawnMismatch = errors.New("spawn velocities do not match positions")

// Spawn adds one particle per position, owned by source. velocities may be
// nil for particles at rest. Non-finite positions are skipped. When the
// population exceeds Sim.MaxParticles the oldest particles are evicted.
// Returns the ids of the particles created.
func (s *Simulation) Spawn(positions, velocities []r3.Vec, source uint32) ([]uint64, error) {
	if velocities != nil && len(velocities) != len(positions) {
		return nil, fmt.Errorf("%w: %d positions, %d velocities", ErrSpawnMismatch, len(positions), len(velocities))
	}

	ids := make([]uint64, 0, len(positions))
	for i, x := range positions {
		if !finiteVec(x) {
			continue
		}
		var v r3.Vec
		if velocities != nil && finiteVec(velocities[i]) {
			v = velocities[i]
		}
		s.nextID++
		s.particles = append(s.particles, components.Particle{
			ID:        s.nextID,
			SourceID:  source,
			Position:  x,
			Predicted: x,
			Velocity:  v,
			Mass:      s.mass,
			Density:   s.cfg.Fluid.RestDensity,
		})
		ids = append(ids, s.nextID)
	}

	s.evict()
	return ids, nil
}

// index finds particle id. Ids increase in spawn order and removal keeps
// order, so the slice is sorted by id.
func (s *Simulation) index(id uint64) (int, bool) {
	i := sort.Search(len(s.particles), func(i int) bool { return s.particles[i].ID >= id })
	return i, i < len(s.particles) && s.particles[i].ID == id
}

// evict drops the oldest particles beyond the budget. Particles are kept in
// spawn order, so the oldest are at the front.
func (s *Simulation) evict() int {
	limit := s.cfg.Sim.MaxParticles
	if limit <= 0 || len(s.particles) <= limit {
		return 0
	}
	n := len(s.particles) - limit
	for i := 0; i < n; i++ {
		s.table.Delete(s.particles[i].ID)
	}
	s.particles = append(s.particles[:0], s.particles[n:]...)
	return n
}

// Remove deletes the particles with the given ids and returns how many were
// found.
func (s *Simulation) Remove(ids ...uint64) int {
	if len(ids) == 0 {
		return 0
	}
	gone := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		gone[id] = struct{}{}
	}
	return s.removeWhere(func(p *components.Particle) bool {
		_, ok := gone[p.ID]
		return ok
	})
}

// RemoveSource deletes every particle spawned by source.
func (s *Simulation) RemoveSource(source uint32) int {
	return s.removeWhere(func(p *components.Particle) bool { return p.SourceID == source })
}

// Clear deletes every particle.
func (s *Simulation) Clear() {
	s.particles = s.particles[:0]
	s.table.Retain(func(uint64) bool { return false })
}

// removeWhere compacts the particle array in place, keeping spawn order.
func (s *Simulation) removeWhere(drop func(p *components.Particle) bool) int {
	kept := s.particles[:0]
	removed := 0
	for i := range s.particles {
		p := &s.particles[i]
		if drop(p) {
			s.table.Delete(p.ID)
			removed++
			continue
		}
		kept = append(kept, *p)
	}
	clear(s.particles[len(kept):])
	s.particles = kept
	return removed
}

func finiteVec(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
