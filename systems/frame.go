package systems

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/collider"
)

// Response holds the contact coefficients of one collider entry with any
// component overrides already applied.
type Response struct {
	Friction    float64
	Restitution float64
	Margin      float64
	Buffer      float64
	Adhesion    float64 // adhesion strength
}

// ColliderEntry is a collider visible to the solvers for one frame. The shape
// is a non-owning reference valid until the next frame is built.
type ColliderEntry struct {
	Owner    ecs.Entity
	Shape    collider.Collider
	Channel  uint32
	Bounds   r3.Box
	Response Response

	// PerPolygon entries are skinned meshes resolved triangle by triangle by
	// the PerPolygonProcessor instead of the SDF pass.
	PerPolygon bool
	Mesh       *collider.MeshCollider
}

// Frame is the read-only collision world for one frame.
type Frame struct {
	Entries []ColliderEntry
	byOwner map[ecs.Entity]int
}

// NewFrame indexes entries by owner.
func NewFrame(entries []ColliderEntry) *Frame {
	f := &Frame{Entries: entries, byOwner: make(map[ecs.Entity]int, len(entries))}
	for i := range entries {
		f.byOwner[entries[i].Owner] = i
	}
	return f
}

// Lookup resolves an owner handle. ok is false when the owner was removed.
func (f *Frame) Lookup(owner ecs.Entity) (*ColliderEntry, bool) {
	if f == nil {
		return nil, false
	}
	i, ok := f.byOwner[owner]
	if !ok {
		return nil, false
	}
	return &f.Entries[i], true
}

// Matches reports whether the entry collides with the given channel mask.
func (e *ColliderEntry) Matches(channel uint32) bool {
	return e.Channel&channel != 0
}
