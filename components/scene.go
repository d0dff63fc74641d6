package components

import "github.com/pthm-cable/drip/collider"

// ColliderRef registers a collider with the scene.
type ColliderRef struct {
	Shape   collider.Collider
	Channel uint32 // bit mask matched against the preset collision channel
}

// Interaction wraps a skinned mesh for per-triangle collision. Nil overrides
// fall back to the polygon configuration.
type Interaction struct {
	Source  collider.SkinningSource
	Channel uint32

	Friction    *float64
	Restitution *float64
	Margin      *float64
	Buffer      *float64
	Adhesion    *float64
}
