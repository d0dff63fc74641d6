// Package collider provides signed-distance colliders for the fluid solver:
// analytic primitives, an sdfx-backed compound of primitives standing in for a
// simplified mesh, and a BVH-backed skinned triangle mesh.
package collider

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

// Kind tags the concrete collider shape.
type Kind uint8

const (
	KindSphere Kind = iota
	KindCapsule
	KindBox
	KindSimplifiedMesh
	KindMeshBVH
)

func (k Kind) String() string {
	switch k {
	case KindSphere:
		return "sphere"
	case KindCapsule:
		return "capsule"
	case KindBox:
		return "box"
	case KindSimplifiedMesh:
		return "simplified_mesh"
	case KindMeshBVH:
		return "mesh_bvh"
	}
	return "unknown"
}

// Material holds the contact response coefficients of a collider.
type Material struct {
	Friction    float64 // 0 = frictionless, 1 = tangential velocity removed
	Restitution float64 // 0 = no bounce
}

// Collider is a shape the solver can query for signed distance. Distances are
// positive outside, negative inside and zero on the surface; the gradient is
// the unit outward normal.
type Collider interface {
	Kind() Kind
	SignedDistance(p r3.Vec) (float64, r3.Vec)
	ClosestPoint(p r3.Vec) r3.Vec
	Contains(p r3.Vec) bool
	Material() Material
	Bounds() r3.Box
	// Pose is the world-from-local transform used to store attachment offsets.
	Pose() mgl64.Mat4
}

// Surface describes the closest surface feature to a query point.
type Surface struct {
	Distance float64 // signed
	Point    r3.Vec
	Normal   r3.Vec
	Triangle int // -1 unless the collider is a triangle mesh
	Bone     int // -1 unless the feature is driven by a skeleton
	Bary     [3]float64
}

// FeatureQuerier is implemented by colliders whose surface has addressable
// features (triangles, bones) that attachments can follow.
type FeatureQuerier interface {
	QuerySurface(p r3.Vec, maxDist float64) (Surface, bool)
	// ResolveFeature returns the current world position and normal of a
	// barycentric point on a triangle.
	ResolveFeature(triangle int, bary [3]float64) (point, normal r3.Vec, ok bool)
	// ProjectToTriangle returns the closest point of one triangle to p.
	ProjectToTriangle(triangle int, p r3.Vec) (Surface, bool)
	// BonePose returns the current world-from-bind transform of a bone.
	BonePose(bone int) (mgl64.Mat4, bool)
}

// Query returns the closest surface of c to p if it lies within maxDist.
// ok is false when the collider is out of range or cannot answer (for
// example a mesh whose BVH is not initialized).
func Query(c Collider, p r3.Vec, maxDist float64) (Surface, bool) {
	if fq, ok := c.(FeatureQuerier); ok {
		return fq.QuerySurface(p, maxDist)
	}
	d, n := c.SignedDistance(p)
	if math.IsNaN(d) || d > maxDist {
		return Surface{}, false
	}
	return Surface{
		Distance: d,
		Point:    r3.Sub(p, r3.Scale(d, n)),
		Normal:   n,
		Triangle: -1,
		Bone:     -1,
	}, true
}

// up is the fallback normal for degenerate queries (point at a shape's centre).
var up = r3.Vec{Z: 1}

// unitOr normalizes v, returning fallback for near-zero vectors.
func unitOr(v r3.Vec, fallback r3.Vec) r3.Vec {
	n := r3.Norm(v)
	if n < 1e-12 {
		return fallback
	}
	return r3.Scale(1/n, v)
}

func toMgl(v r3.Vec) mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}

func fromMgl(v mgl64.Vec3) r3.Vec {
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

// TransformPoint applies a world-from-local transform to a point.
func TransformPoint(m mgl64.Mat4, p r3.Vec) r3.Vec {
	return fromMgl(m.Mul4x1(toMgl(p).Vec4(1)).Vec3())
}

// TransformDirection applies the linear part of a transform to a direction.
func TransformDirection(m mgl64.Mat4, d r3.Vec) r3.Vec {
	return fromMgl(m.Mul4x1(toMgl(d).Vec4(0)).Vec3())
}

// InverseTransformPoint maps a world point into the local space of m.
func InverseTransformPoint(m mgl64.Mat4, p r3.Vec) r3.Vec {
	return TransformPoint(m.Inv(), p)
}

// emptyBox returns an inverted box that any union will replace.
func emptyBox() r3.Box {
	inf := math.Inf(1)
	return r3.Box{
		Min: r3.Vec{X: inf, Y: inf, Z: inf},
		Max: r3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

func growBox(b r3.Box, p r3.Vec) r3.Box {
	b.Min.X = math.Min(b.Min.X, p.X)
	b.Min.Y = math.Min(b.Min.Y, p.Y)
	b.Min.Z = math.Min(b.Min.Z, p.Z)
	b.Max.X = math.Max(b.Max.X, p.X)
	b.Max.Y = math.Max(b.Max.Y, p.Y)
	b.Max.Z = math.Max(b.Max.Z, p.Z)
	return b
}

func unionBox(a, b r3.Box) r3.Box {
	return growBox(growBox(a, b.Min), b.Max)
}

// BoxesOverlap reports whether two boxes intersect (touching counts).
func BoxesOverlap(a, b r3.Box) bool {
	return a.Min.X <= b.Max.X && a.Max.X >= b.Min.X &&
		a.Min.Y <= b.Max.Y && a.Max.Y >= b.Min.Y &&
		a.Min.Z <= b.Max.Z && a.Max.Z >= b.Min.Z
}

// ExpandBox grows a box by d on every side.
func ExpandBox(b r3.Box, d float64) r3.Box {
	e := r3.Vec{X: d, Y: d, Z: d}
	return r3.Box{Min: r3.Sub(b.Min, e), Max: r3.Add(b.Max, e)}
}

// boxDistanceSq returns the squared distance from p to box b (0 inside).
func boxDistanceSq(b r3.Box, p r3.Vec) float64 {
	dx := math.Max(math.Max(b.Min.X-p.X, 0), p.X-b.Max.X)
	dy := math.Max(math.Max(b.Min.Y-p.Y, 0), p.Y-b.Max.Y)
	dz := math.Max(math.Max(b.Min.Z-p.Z, 0), p.Z-b.Max.Z)
	return dx*dx + dy*dy + dz*dz
}

// transformBox returns the world bounds of a local box under m.
func transformBox(m mgl64.Mat4, b r3.Box) r3.Box {
	out := emptyBox()
	for i := 0; i < 8; i++ {
		c := b.Min
		if i&1 != 0 {
			c.X = b.Max.X
		}
		if i&2 != 0 {
			c.Y = b.Max.Y
		}
		if i&4 != 0 {
			c.Z = b.Max.Z
		}
		out = growBox(out, TransformPoint(m, c))
	}
	return out
}
