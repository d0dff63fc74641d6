package collider

import (
	"errors"
	"fmt"
	"math"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrEmptyCompound is returned when a simplified mesh has no elements.
var ErrEmptyCompound = errors.New("simplified mesh has no elements")

// ElementShape identifies a primitive inside a simplified mesh.
type ElementShape uint8

const (
	ElementSphere ElementShape = iota
	ElementBox
	ElementCylinder
)

// Element is one primitive of a simplified mesh, placed in the mesh's local frame.
type Element struct {
	Shape    ElementShape
	Radius   float64    // sphere, cylinder
	Size     r3.Vec     // box full size
	Height   float64    // cylinder, along local z
	Round    float64    // box / cylinder edge rounding
	Offset   r3.Vec     // element centre in mesh space
	Rotation [3]float64 // Euler angles in radians, applied X then Y then Z
}

// SimplifiedMesh approximates a mesh with a union of primitives. The union is
// evaluated by sdfx in mesh space and mapped to the world through the pose.
type SimplifiedMesh struct {
	shape sdf.SDF3
	pose  mgl64.Mat4
	inv   mgl64.Mat4
	local r3.Box
	eps   float64
	Mat   Material
}

// NewSimplifiedMesh builds the union of elements placed at pose.
func NewSimplifiedMesh(elements []Element, pose mgl64.Mat4, mat Material) (*SimplifiedMesh, error) {
	if len(elements) == 0 {
		return nil, ErrEmptyCompound
	}

	parts := make([]sdf.SDF3, 0, len(elements))
	for i, e := range elements {
		s, err := elementSDF(e)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		m := sdf.Translate3d(v3.Vec{X: e.Offset.X, Y: e.Offset.Y, Z: e.Offset.Z}).
			Mul(sdf.RotateZ(e.Rotation[2])).
			Mul(sdf.RotateY(e.Rotation[1])).
			Mul(sdf.RotateX(e.Rotation[0]))
		parts = append(parts, sdf.Transform3D(s, m))
	}

	shape := parts[0]
	if len(parts) > 1 {
		shape = sdf.Union3D(parts...)
	}

	bb := shape.BoundingBox()
	local := r3.Box{
		Min: r3.Vec{X: bb.Min.X, Y: bb.Min.Y, Z: bb.Min.Z},
		Max: r3.Vec{X: bb.Max.X, Y: bb.Max.Y, Z: bb.Max.Z},
	}
	size := r3.Sub(local.Max, local.Min)
	eps := 1e-4 * math.Max(size.X, math.Max(size.Y, size.Z))
	if eps <= 0 {
		eps = 1e-4
	}

	return &SimplifiedMesh{
		shape: shape,
		pose:  pose,
		inv:   pose.Inv(),
		local: local,
		eps:   eps,
		Mat:   mat,
	}, nil
}

func elementSDF(e Element) (sdf.SDF3, error) {
	switch e.Shape {
	case ElementSphere:
		return sdf.Sphere3D(e.Radius)
	case ElementBox:
		return sdf.Box3D(v3.Vec{X: e.Size.X, Y: e.Size.Y, Z: e.Size.Z}, e.Round)
	case ElementCylinder:
		return sdf.Cylinder3D(e.Height, e.Radius, e.Round)
	}
	return nil, fmt.Errorf("unknown element shape %d", e.Shape)
}

// SetPose moves the simplified mesh; called by the scene once per frame.
func (m *SimplifiedMesh) SetPose(pose mgl64.Mat4) {
	m.pose = pose
	m.inv = pose.Inv()
}

func (m *SimplifiedMesh) Kind() Kind         { return KindSimplifiedMesh }
func (m *SimplifiedMesh) Material() Material { return m.Mat }
func (m *SimplifiedMesh) Pose() mgl64.Mat4   { return m.pose }

func (m *SimplifiedMesh) eval(q r3.Vec) float64 {
	return m.shape.Evaluate(v3.Vec{X: q.X, Y: q.Y, Z: q.Z})
}

// SignedDistance evaluates the union in mesh space. The gradient comes from
// central differences and is rotated back to world space.
func (m *SimplifiedMesh) SignedDistance(p r3.Vec) (float64, r3.Vec) {
	q := TransformPoint(m.inv, p)
	d := m.eval(q)

	h := m.eps
	g := r3.Vec{
		X: m.eval(r3.Vec{X: q.X + h, Y: q.Y, Z: q.Z}) - m.eval(r3.Vec{X: q.X - h, Y: q.Y, Z: q.Z}),
		Y: m.eval(r3.Vec{X: q.X, Y: q.Y + h, Z: q.Z}) - m.eval(r3.Vec{X: q.X, Y: q.Y - h, Z: q.Z}),
		Z: m.eval(r3.Vec{X: q.X, Y: q.Y, Z: q.Z + h}) - m.eval(r3.Vec{X: q.X, Y: q.Y, Z: q.Z - h}),
	}
	n := unitOr(TransformDirection(m.pose, unitOr(g, up)), up)
	return d, n
}

func (m *SimplifiedMesh) ClosestPoint(p r3.Vec) r3.Vec {
	d, n := m.SignedDistance(p)
	return r3.Sub(p, r3.Scale(d, n))
}

func (m *SimplifiedMesh) Contains(p r3.Vec) bool {
	return m.eval(TransformPoint(m.inv, p)) <= 0
}

func (m *SimplifiedMesh) Bounds() r3.Box {
	return transformBox(m.pose, m.local)
}
