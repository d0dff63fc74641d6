// Package components defines the plain data shared by the solver systems and
// the ECS scene.
package components

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"
)

// Particle is one fluid particle. Positions and velocities are in world units.
type Particle struct {
	ID       uint64 // stable, never reused; increases in spawn order
	SourceID uint32 // spawner that created the particle

	Position  r3.Vec // current, committed at finalize
	Predicted r3.Vec // working position during a substep
	Velocity  r3.Vec

	Mass    float64 // kg
	Density float64 // kg/m^3
	Lambda  float64 // accumulated XPBD multiplier, reset every substep

	Neighbors []int32 // indices within the smoothing radius, self excluded

	Attached     bool
	JustDetached bool // set on release, cleared at the next predict
	NearGround   bool // contact normal faced up during the last collision pass

	EventCooldown float64 // seconds until the next collision event may fire
}

// AnchorKind selects how an attachment follows its owner.
type AnchorKind uint8

const (
	AnchorPose     AnchorKind = iota // owner pose x LocalOffset
	AnchorBone                       // bone pose x LocalOffset
	AnchorTriangle                   // skinned triangle point + Normal x Height
)

func (k AnchorKind) String() string {
	switch k {
	case AnchorPose:
		return "pose"
	case AnchorBone:
		return "bone"
	case AnchorTriangle:
		return "triangle"
	}
	return "unknown"
}

// Attachment binds a particle to a surface feature of an owner. The owner is a
// handle resolved through the scene every frame; a handle that no longer
// resolves releases the particle.
type Attachment struct {
	Owner    ecs.Entity
	Kind     AnchorKind
	Bone     int
	Triangle int
	Bary     [3]float64

	LocalOffset r3.Vec  // particle position in owner or bone space
	Height      float64 // distance above the triangle along its normal

	Normal r3.Vec // last surface normal
	Point  r3.Vec // last surface point
	Time   float64

	// Carry is the displacement the anchor applied during the last predict.
	Carry r3.Vec
}

// SameFeature reports whether two attachments follow the same owner and bone.
func (a *Attachment) SameFeature(b *Attachment) bool {
	return a.Owner == b.Owner && a.Bone == b.Bone
}
