package collider

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

// Sphere is a sphere collider.
type Sphere struct {
	Center r3.Vec
	Radius float64
	Mat    Material
}

func (s *Sphere) Kind() Kind         { return KindSphere }
func (s *Sphere) Material() Material { return s.Mat }

func (s *Sphere) SignedDistance(p r3.Vec) (float64, r3.Vec) {
	d := r3.Sub(p, s.Center)
	return r3.Norm(d) - s.Radius, unitOr(d, up)
}

func (s *Sphere) ClosestPoint(p r3.Vec) r3.Vec {
	n := unitOr(r3.Sub(p, s.Center), up)
	return r3.Add(s.Center, r3.Scale(s.Radius, n))
}

func (s *Sphere) Contains(p r3.Vec) bool {
	return r3.Norm2(r3.Sub(p, s.Center)) <= s.Radius*s.Radius
}

func (s *Sphere) Bounds() r3.Box {
	e := r3.Vec{X: s.Radius, Y: s.Radius, Z: s.Radius}
	return r3.Box{Min: r3.Sub(s.Center, e), Max: r3.Add(s.Center, e)}
}

func (s *Sphere) Pose() mgl64.Mat4 {
	return mgl64.Translate3D(s.Center.X, s.Center.Y, s.Center.Z)
}

// Capsule is a swept sphere between two end points.
type Capsule struct {
	A, B   r3.Vec
	Radius float64
	Mat    Material
}

func (c *Capsule) Kind() Kind         { return KindCapsule }
func (c *Capsule) Material() Material { return c.Mat }

// segmentPoint returns the closest point to p on the capsule axis.
func (c *Capsule) segmentPoint(p r3.Vec) r3.Vec {
	ab := r3.Sub(c.B, c.A)
	denom := r3.Norm2(ab)
	if denom < 1e-12 {
		return c.A
	}
	t := r3.Dot(r3.Sub(p, c.A), ab) / denom
	t = math.Max(0, math.Min(1, t))
	return r3.Add(c.A, r3.Scale(t, ab))
}

func (c *Capsule) SignedDistance(p r3.Vec) (float64, r3.Vec) {
	d := r3.Sub(p, c.segmentPoint(p))
	return r3.Norm(d) - c.Radius, unitOr(d, c.fallbackNormal())
}

// fallbackNormal is any direction perpendicular to the axis.
func (c *Capsule) fallbackNormal() r3.Vec {
	axis := unitOr(r3.Sub(c.B, c.A), up)
	n := r3.Cross(axis, r3.Vec{X: 1})
	if r3.Norm2(n) < 1e-6 {
		n = r3.Cross(axis, r3.Vec{Y: 1})
	}
	return unitOr(n, up)
}

func (c *Capsule) ClosestPoint(p r3.Vec) r3.Vec {
	s := c.segmentPoint(p)
	n := unitOr(r3.Sub(p, s), c.fallbackNormal())
	return r3.Add(s, r3.Scale(c.Radius, n))
}

func (c *Capsule) Contains(p r3.Vec) bool {
	return r3.Norm2(r3.Sub(p, c.segmentPoint(p))) <= c.Radius*c.Radius
}

func (c *Capsule) Bounds() r3.Box {
	b := growBox(growBox(emptyBox(), c.A), c.B)
	return ExpandBox(b, c.Radius)
}

// Pose places the local z axis along A->B with the origin at the midpoint.
func (c *Capsule) Pose() mgl64.Mat4 {
	mid := r3.Scale(0.5, r3.Add(c.A, c.B))
	axis := unitOr(r3.Sub(c.B, c.A), up)
	q := mgl64.QuatBetweenVectors(mgl64.Vec3{0, 0, 1}, toMgl(axis))
	return mgl64.Translate3D(mid.X, mid.Y, mid.Z).Mul4(q.Mat4())
}

// Box is an oriented box collider.
type Box struct {
	Center      r3.Vec
	HalfExtents r3.Vec
	Rotation    mgl64.Quat // zero value is treated as identity
	Mat         Material
}

// NewBox returns an axis-aligned box.
func NewBox(center, halfExtents r3.Vec, mat Material) *Box {
	return &Box{Center: center, HalfExtents: halfExtents, Rotation: mgl64.QuatIdent(), Mat: mat}
}

func (b *Box) Kind() Kind         { return KindBox }
func (b *Box) Material() Material { return b.Mat }

func (b *Box) rotation() mgl64.Quat {
	if b.Rotation.Len() < 1e-12 {
		return mgl64.QuatIdent()
	}
	return b.Rotation.Normalize()
}

func (b *Box) toLocal(p r3.Vec) r3.Vec {
	return fromMgl(b.rotation().Inverse().Rotate(toMgl(r3.Sub(p, b.Center))))
}

func (b *Box) toWorldDir(d r3.Vec) r3.Vec {
	return fromMgl(b.rotation().Rotate(toMgl(d)))
}

func (b *Box) SignedDistance(p r3.Vec) (float64, r3.Vec) {
	q := b.toLocal(p)
	d := r3.Vec{
		X: math.Abs(q.X) - b.HalfExtents.X,
		Y: math.Abs(q.Y) - b.HalfExtents.Y,
		Z: math.Abs(q.Z) - b.HalfExtents.Z,
	}
	outside := r3.Vec{X: math.Max(d.X, 0), Y: math.Max(d.Y, 0), Z: math.Max(d.Z, 0)}
	outLen := r3.Norm(outside)
	if outLen > 0 {
		g := r3.Vec{
			X: math.Copysign(outside.X, q.X),
			Y: math.Copysign(outside.Y, q.Y),
			Z: math.Copysign(outside.Z, q.Z),
		}
		return outLen, b.toWorldDir(r3.Scale(1/outLen, g))
	}

	// Inside: the nearest face is the axis with the largest (least negative) d
	var g r3.Vec
	inside := d.X
	g.X = math.Copysign(1, q.X)
	if d.Y > inside {
		inside = d.Y
		g = r3.Vec{Y: math.Copysign(1, q.Y)}
	}
	if d.Z > inside {
		inside = d.Z
		g = r3.Vec{Z: math.Copysign(1, q.Z)}
	}
	return inside, b.toWorldDir(g)
}

func (b *Box) ClosestPoint(p r3.Vec) r3.Vec {
	d, n := b.SignedDistance(p)
	return r3.Sub(p, r3.Scale(d, n))
}

func (b *Box) Contains(p r3.Vec) bool {
	q := b.toLocal(p)
	return math.Abs(q.X) <= b.HalfExtents.X &&
		math.Abs(q.Y) <= b.HalfExtents.Y &&
		math.Abs(q.Z) <= b.HalfExtents.Z
}

func (b *Box) Bounds() r3.Box {
	local := r3.Box{Min: r3.Scale(-1, b.HalfExtents), Max: b.HalfExtents}
	return transformBox(b.Pose(), local)
}

func (b *Box) Pose() mgl64.Mat4 {
	return mgl64.Translate3D(b.Center.X, b.Center.Y, b.Center.Z).Mul4(b.rotation().Mat4())
}
