// Package systems implements the fluid solver stages: neighbor search, the
// XPBD density constraint, viscosity, adhesion and cohesion, stack pressure
// and collision resolution.
package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/components"
)

// DefaultMaxNeighbors caps the neighbor list of a particle.
// This prevents density spikes from causing unbounded work.
const DefaultMaxNeighbors = 96

// CellKey is an integer grid coordinate.
type CellKey struct {
	X, Y, Z int32
}

// SpatialHash buckets particle indices into an unbounded uniform grid keyed by
// floor(position / cellSize).
type SpatialHash struct {
	cellSize     float64
	inv          float64
	cells        map[CellKey][]int32
	maxNeighbors int
}

// NewSpatialHash creates a hash with the given cell size (normally the
// smoothing radius) and neighbor cap.
func NewSpatialHash(cellSize float64, maxNeighbors int) *SpatialHash {
	if maxNeighbors <= 0 {
		maxNeighbors = DefaultMaxNeighbors
	}
	return &SpatialHash{
		cellSize:     cellSize,
		inv:          1 / cellSize,
		cells:        make(map[CellKey][]int32),
		maxNeighbors: maxNeighbors,
	}
}

// CellSize returns the grid spacing.
func (h *SpatialHash) CellSize() float64 { return h.cellSize }

// MaxNeighbors returns the neighbor list cap.
func (h *SpatialHash) MaxNeighbors() int { return h.maxNeighbors }

// Cell returns the grid coordinate containing p.
func (h *SpatialHash) Cell(p r3.Vec) CellKey {
	return CellKey{
		X: int32(math.Floor(p.X * h.inv)),
		Y: int32(math.Floor(p.Y * h.inv)),
		Z: int32(math.Floor(p.Z * h.inv)),
	}
}

// Build clears the grid and inserts every particle at its predicted position.
// Buckets left empty by the previous build are dropped; others keep their
// capacity.
func (h *SpatialHash) Build(particles []components.Particle) {
	for k, idx := range h.cells {
		if len(idx) == 0 {
			delete(h.cells, k)
			continue
		}
		h.cells[k] = idx[:0]
	}
	for i := range particles {
		k := h.Cell(particles[i].Predicted)
		h.cells[k] = append(h.cells[k], int32(i))
	}
}

// Len returns the number of non-empty cells.
func (h *SpatialHash) Len() int {
	n := 0
	for _, idx := range h.cells {
		if len(idx) > 0 {
			n++
		}
	}
	return n
}

// cellRadius is the number of cells to scan on each side of the query cell.
func (h *SpatialHash) cellRadius(radius float64) int32 {
	k := int32(math.Ceil(radius * h.inv))
	if k < 1 {
		k = 1
	}
	return k
}

// QueryCandidatesInto appends every index in the block of cells around p that
// can hold a particle within radius. The result is a superset; callers must
// apply an exact distance test.
func (h *SpatialHash) QueryCandidatesInto(dst []int32, p r3.Vec, radius float64) []int32 {
	c := h.Cell(p)
	k := h.cellRadius(radius)
	for dz := -k; dz <= k; dz++ {
		for dy := -k; dy <= k; dy++ {
			for dx := -k; dx <= k; dx++ {
				dst = append(dst, h.cells[CellKey{c.X + dx, c.Y + dy, c.Z + dz}]...)
			}
		}
	}
	return dst
}

// QueryRadiusInto appends the indices of particles whose predicted position is
// within radius of p (inclusive), skipping exclude, up to the neighbor cap.
// Returns the updated slice. Reuse dst across calls to avoid allocations.
func (h *SpatialHash) QueryRadiusInto(dst []int32, p r3.Vec, radius float64, particles []components.Particle, exclude int32) []int32 {
	c := h.Cell(p)
	k := h.cellRadius(radius)
	r2 := radius * radius
	limit := len(dst) + h.maxNeighbors

	for dz := -k; dz <= k; dz++ {
		for dy := -k; dy <= k; dy++ {
			for dx := -k; dx <= k; dx++ {
				for _, j := range h.cells[CellKey{c.X + dx, c.Y + dy, c.Z + dz}] {
					if j == exclude {
						continue
					}
					if r3.Norm2(r3.Sub(particles[j].Predicted, p)) <= r2 {
						dst = append(dst, j)
						// Early exit if we hit the cap
						if len(dst) >= limit {
							return dst
						}
					}
				}
			}
		}
	}
	return dst
}

// BuildNeighborLists rebuilds the hash and fills every particle's neighbor list
// with the particles within radius. Each list is private to its particle, so
// the loop is dispatched to the pool.
func (h *SpatialHash) BuildNeighborLists(particles []components.Particle, radius float64, pool *Pool) {
	h.Build(particles)
	pool.For(len(particles), func(start, end int) {
		for i := start; i < end; i++ {
			p := &particles[i]
			p.Neighbors = h.QueryRadiusInto(p.Neighbors[:0], p.Predicted, radius, particles, int32(i))
		}
	})
}
