package systems

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/collider"
	"github.com/pthm-cable/drip/components"
	"github.com/pthm-cable/drip/config"
)

// pendingAttach is a provisional attachment found during the parallel pass.
type pendingAttach struct {
	particle int
	record   components.Attachment
}

// PerPolygonProcessor resolves particles against the skinned triangles of
// interaction meshes through their BVH. It shares the contact response and
// impact slots of a CollisionSolver.
type PerPolygonProcessor struct {
	Collision          *CollisionSolver
	Kernels            Kernels
	Table              *AttachmentTable
	AttachDistance     float64
	MinAttachStrength  float64
	ContactOffsetRatio float64

	mu      sync.Mutex
	pending []pendingAttach

	candidates []int32
	scratch    [][]int // per-worker triangle candidates
}

// NewPerPolygonProcessor builds a processor from the configuration.
func NewPerPolygonProcessor(cfg *config.Config, k Kernels, cs *CollisionSolver, table *AttachmentTable) *PerPolygonProcessor {
	return &PerPolygonProcessor{
		Collision:          cs,
		Kernels:            k,
		Table:              table,
		AttachDistance:     cfg.Polygon.AttachDistance,
		MinAttachStrength:  cfg.Adhesion.MinAttachStrength,
		ContactOffsetRatio: cfg.Adhesion.ContactOffsetRatio,
	}
}

// Candidates returns the particles whose contact sphere overlaps the mesh
// bounds. The slice is reused by the next call.
func (pp *PerPolygonProcessor) Candidates(particles []components.Particle, entry *ColliderEntry) []int32 {
	pp.candidates = pp.candidates[:0]
	if entry.Mesh == nil || !entry.Mesh.Valid() {
		return pp.candidates
	}
	reach := pp.Collision.Radius + entry.Response.Margin
	for i := range particles {
		if nearBox(entry.Bounds, particles[i].Predicted, reach) {
			pp.candidates = append(pp.candidates, int32(i))
		}
	}
	return pp.candidates
}

// Resolve processes the candidate particles against one mesh entry. Each
// candidate index must appear once. New attachments are queued for Commit.
func (pp *PerPolygonProcessor) Resolve(particles []components.Particle, entry *ColliderEntry, candidates []int32, dt, now float64, pool *Pool) {
	if entry.Mesh == nil || !entry.Mesh.Valid() || len(candidates) == 0 {
		return
	}
	cs := pp.Collision
	if len(cs.impacts) != len(particles) {
		cs.Reset(len(particles))
	}
	workers := pool.Workers()
	if len(pp.scratch) < workers {
		pp.scratch = make([][]int, workers)
	}

	mesh := entry.Mesh
	bvh := mesh.BVH
	reach := cs.Radius + entry.Response.Margin
	k := &pp.Kernels

	pool.ForWorker(len(candidates), func(w, start, end int) {
		for c := start; c < end; c++ {
			i := int(candidates[c])
			p := &particles[i]

			tris := bvh.QuerySphere(p.Predicted, reach, pp.scratch[w][:0])
			pp.scratch[w] = tris
			best, bestD := -1, math.Inf(1)
			for _, t := range tris {
				a, b, cc := bvh.Triangle(t)
				cp, _ := collider.ClosestPointOnTriangle(p.Predicted, a, b, cc)
				if d := r3.Norm2(r3.Sub(p.Predicted, cp)); d < bestD {
					best, bestD = t, d
				}
			}
			if best < 0 {
				continue
			}
			surf, ok := mesh.ProjectToTriangle(best, p.Predicted)
			if !ok {
				continue
			}

			pushed := cs.resolveContact(p, i, contact{
				owner:       entry.Owner,
				distance:    surf.Distance,
				point:       surf.Point,
				normal:      surf.Normal,
				response:    entry.Response,
				maxPush:     cs.MaxCorrection,
				bounceSpeed: cs.MinBounceVelocity,
				radius:      cs.Radius,
			}, dt)
			if pushed == 0 {
				continue
			}

			gap := surf.Distance + pushed - cs.Radius
			strength := entry.Response.Adhesion
			if strength > 0 {
				// Pull back toward the surface by lowering the outgoing velocity
				dist := math.Max(gap, 0)*k.Scale + pp.ContactOffsetRatio*k.H
				pull := strength * k.Adhesion(dist) / k.Scale
				p.Position = addScaled(p.Position, dt*dt*pull, surf.Normal)
			}

			if p.Attached || p.JustDetached || strength < pp.MinAttachStrength || gap > pp.AttachDistance {
				continue
			}
			rec := NewAttachment(entry, surf, p.Predicted, now)
			pp.mu.Lock()
			pp.pending = append(pp.pending, pendingAttach{particle: i, record: rec})
			pp.mu.Unlock()
		}
	})
}

// Commit applies queued attachments in particle order and returns how many
// were created.
func (pp *PerPolygonProcessor) Commit(particles []components.Particle) int {
	if len(pp.pending) == 0 {
		return 0
	}
	sort.Slice(pp.pending, func(a, b int) bool { return pp.pending[a].particle < pp.pending[b].particle })
	n := 0
	for _, pa := range pp.pending {
		p := &particles[pa.particle]
		if p.Attached {
			continue
		}
		pp.Table.Attach(p, pa.record)
		n++
	}
	pp.pending = pp.pending[:0]
	return n
}
