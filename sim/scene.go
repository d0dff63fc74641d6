package sim

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/drip/collider"
	"github.com/pthm-cable/drip/components"
	"github.com/pthm-cable/drip/config"
	"github.com/pthm-cable/drip/systems"
)

// Scene is the host-facing registry of colliders and interaction meshes. Each
// registration is an ECS entity; the entity handle is the stable owner id that
// attachments refer to.
type Scene struct {
	world *ecs.World

	colliderMap    *ecs.Map1[components.ColliderRef]
	interactionMap *ecs.Map1[components.Interaction]

	colliderFilter    *ecs.Filter1[components.ColliderRef]
	interactionFilter *ecs.Filter1[components.Interaction]
}

// NewScene creates an empty scene.
func NewScene() *Scene {
	world := ecs.NewWorld()
	return &Scene{
		world:             world,
		colliderMap:       ecs.NewMap1[components.ColliderRef](world),
		interactionMap:    ecs.NewMap1[components.Interaction](world),
		colliderFilter:    ecs.NewFilter1[components.ColliderRef](world),
		interactionFilter: ecs.NewFilter1[components.Interaction](world),
	}
}

// AddCollider registers an SDF collider on the given channel mask.
func (s *Scene) AddCollider(shape collider.Collider, channel uint32) ecs.Entity {
	return s.colliderMap.NewEntity(&components.ColliderRef{Shape: shape, Channel: channel})
}

// AddInteraction registers a skinned mesh resolved triangle by triangle.
func (s *Scene) AddInteraction(in components.Interaction) ecs.Entity {
	return s.interactionMap.NewEntity(&in)
}

// Remove unregisters an entity. Particles attached to it are released on the
// next substep. Returns false if the entity was already gone.
func (s *Scene) Remove(e ecs.Entity) bool {
	if !s.world.Alive(e) {
		return false
	}
	s.world.RemoveEntity(e)
	return true
}

// Alive reports whether e is still registered.
func (s *Scene) Alive(e ecs.Entity) bool {
	return s.world.Alive(e)
}

// Len returns the number of registered colliders and interactions.
func (s *Scene) Len() int {
	n := 0
	q := s.colliderFilter.Query()
	for q.Next() {
		n++
	}
	qi := s.interactionFilter.Query()
	for qi.Next() {
		n++
	}
	return n
}

// BuildEntries appends one entry per live registration to dst. Interaction
// meshes come from cache, which must have been updated for this frame.
func (s *Scene) BuildEntries(dst []systems.ColliderEntry, cfg *config.Config, cache *BVHCache) []systems.ColliderEntry {
	q := s.colliderFilter.Query()
	for q.Next() {
		ref := q.Get()
		if ref.Shape == nil {
			continue
		}
		mat := ref.Shape.Material()
		dst = append(dst, systems.ColliderEntry{
			Owner:   q.Entity(),
			Shape:   ref.Shape,
			Channel: ref.Channel,
			Bounds:  ref.Shape.Bounds(),
			Response: systems.Response{
				Friction:    mat.Friction,
				Restitution: mat.Restitution,
				Margin:      cfg.Collision.Margin,
				Buffer:      cfg.Collision.Buffer,
				Adhesion:    cfg.Fluid.AdhesionStrength,
			},
		})
	}

	if !cfg.Polygon.Enabled {
		return dst
	}
	qi := s.interactionFilter.Query()
	for qi.Next() {
		e := qi.Entity()
		mesh, ok := cache.Get(e)
		if !ok || !mesh.Valid() {
			continue
		}
		in := qi.Get()
		dst = append(dst, systems.ColliderEntry{
			Owner:      e,
			Shape:      mesh,
			Channel:    in.Channel,
			Bounds:     mesh.Bounds(),
			Response:   interactionResponse(in, &cfg.Polygon),
			PerPolygon: true,
			Mesh:       mesh,
		})
	}
	return dst
}

// interactionResponse applies the component overrides over the polygon
// defaults.
func interactionResponse(in *components.Interaction, def *config.PolygonConfig) systems.Response {
	r := systems.Response{
		Friction:    def.Friction,
		Restitution: def.Restitution,
		Margin:      def.Margin,
		Buffer:      def.Buffer,
		Adhesion:    def.AdhesionStrength,
	}
	if in.Friction != nil {
		r.Friction = *in.Friction
	}
	if in.Restitution != nil {
		r.Restitution = *in.Restitution
	}
	if in.Margin != nil {
		r.Margin = *in.Margin
	}
	if in.Buffer != nil {
		r.Buffer = *in.Buffer
	}
	if in.Adhesion != nil {
		r.Adhesion = *in.Adhesion
	}
	return r
}

// syncCache builds cache entries for new interactions and drops dead ones.
func (s *Scene) syncCache(cache *BVHCache, def *config.PolygonConfig) {
	cache.Collect(s.world.Alive)
	qi := s.interactionFilter.Query()
	for qi.Next() {
		in := qi.Get()
		r := interactionResponse(in, def)
		cache.Ensure(qi.Entity(), in.Source, collider.Material{Friction: r.Friction, Restitution: r.Restitution})
	}
}
