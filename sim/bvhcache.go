package sim

import (
	"log/slog"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/drip/collider"
)

type cacheEntry struct {
	geometry *collider.SkinnedMesh
	mesh     *collider.MeshCollider
	err      error
}

// BVHCache owns one mesh collider per interaction entity. Entries are built on
// first sight, refit every frame and dropped by Collect once their entity is
// gone.
type BVHCache struct {
	entries map[ecs.Entity]*cacheEntry
}

// NewBVHCache creates an empty cache.
func NewBVHCache() *BVHCache {
	return &BVHCache{entries: make(map[ecs.Entity]*cacheEntry)}
}

// Ensure returns the collider for e, building it when e is new or its source
// skins different geometry. Entries are keyed by the mesh pointer, so a host
// may hand over a fresh source value every frame; the tree then follows the
// new source's bones. A build failure is logged once and cached; the returned
// collider is then invalid and answers no queries.
func (c *BVHCache) Ensure(e ecs.Entity, src collider.SkinningSource, mat collider.Material) (*collider.MeshCollider, error) {
	var geometry *collider.SkinnedMesh
	if src != nil {
		geometry = src.Mesh()
	}
	if ce, ok := c.entries[e]; ok && ce.geometry == geometry {
		ce.mesh.BVH.Rebind(src)
		ce.mesh.Mat = mat
		return ce.mesh, ce.err
	}
	mesh, err := collider.NewMeshCollider(src, mat)
	if err != nil {
		slog.Warn("interaction mesh BVH build failed", "entity", e, "error", err)
	}
	c.entries[e] = &cacheEntry{geometry: geometry, mesh: mesh, err: err}
	return mesh, err
}

// Get returns the cached collider for e.
func (c *BVHCache) Get(e ecs.Entity) (*collider.MeshCollider, bool) {
	ce, ok := c.entries[e]
	if !ok {
		return nil, false
	}
	return ce.mesh, true
}

// Collect drops entries whose entity is no longer alive and returns how many
// were dropped.
func (c *BVHCache) Collect(alive func(ecs.Entity) bool) int {
	dropped := 0
	for e := range c.entries {
		if !alive(e) {
			delete(c.entries, e)
			dropped++
		}
	}
	return dropped
}

// Update re-skins and refits every valid BVH for the current pose.
func (c *BVHCache) Update(d collider.Dispatcher) {
	for _, ce := range c.entries {
		if ce.mesh.Valid() {
			ce.mesh.BVH.Update(d)
		}
	}
}

// Len returns the number of cached entries, valid or not.
func (c *BVHCache) Len() int { return len(c.entries) }
