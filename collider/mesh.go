package collider

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

// MeshCollider is a per-triangle collider over a skinned mesh. Sign is taken
// from the face normal of the closest triangle, so the mesh must be closed and
// consistently wound for Contains to be meaningful.
type MeshCollider struct {
	BVH *SkeletalMeshBVH
	Mat Material
}

// NewMeshCollider builds a BVH for src. On error the returned collider is
// still usable but answers no queries.
func NewMeshCollider(src SkinningSource, mat Material) (*MeshCollider, error) {
	m := &MeshCollider{BVH: &SkeletalMeshBVH{}, Mat: mat}
	err := m.BVH.Build(src)
	return m, err
}

func (m *MeshCollider) Kind() Kind         { return KindMeshBVH }
func (m *MeshCollider) Material() Material { return m.Mat }

// Valid reports whether the underlying BVH can answer queries.
func (m *MeshCollider) Valid() bool { return m.BVH.IsValid() }

func (m *MeshCollider) Pose() mgl64.Mat4 {
	if !m.Valid() {
		return mgl64.Ident4()
	}
	return m.BVH.Source().Root()
}

func (m *MeshCollider) Bounds() r3.Box {
	return m.BVH.Bounds()
}

// surface converts a BVH hit into a signed surface record.
func (m *MeshCollider) surface(p r3.Vec, hit Hit) Surface {
	delta := r3.Sub(p, hit.Point)
	sign := 1.0
	if r3.Dot(delta, hit.Normal) < 0 {
		sign = -1
	}
	normal := hit.Normal
	if hit.Distance > 1e-9 {
		normal = r3.Scale(sign/hit.Distance, delta)
	}
	if r3.Norm2(normal) == 0 {
		normal = up
	}
	return Surface{
		Distance: sign * hit.Distance,
		Point:    hit.Point,
		Normal:   normal,
		Triangle: hit.Triangle,
		Bone:     m.BVH.TriangleBone(hit.Triangle, hit.Bary),
		Bary:     hit.Bary,
	}
}

// SignedDistance returns +Inf when the BVH is invalid so the collider is
// skipped by every distance test.
func (m *MeshCollider) SignedDistance(p r3.Vec) (float64, r3.Vec) {
	hit, ok := m.BVH.QueryClosestTriangle(p, math.Inf(1))
	if !ok {
		return math.Inf(1), up
	}
	s := m.surface(p, hit)
	return s.Distance, s.Normal
}

func (m *MeshCollider) ClosestPoint(p r3.Vec) r3.Vec {
	hit, ok := m.BVH.QueryClosestTriangle(p, math.Inf(1))
	if !ok {
		return p
	}
	return hit.Point
}

func (m *MeshCollider) Contains(p r3.Vec) bool {
	d, _ := m.SignedDistance(p)
	return d <= 0
}

// QuerySurface finds the closest triangle within maxDist.
func (m *MeshCollider) QuerySurface(p r3.Vec, maxDist float64) (Surface, bool) {
	hit, ok := m.BVH.QueryClosestTriangle(p, maxDist)
	if !ok {
		return Surface{}, false
	}
	return m.surface(p, hit), true
}

func (m *MeshCollider) ResolveFeature(triangle int, bary [3]float64) (r3.Vec, r3.Vec, bool) {
	if !m.Valid() || triangle < 0 || triangle >= m.BVH.TriangleCount() {
		return r3.Vec{}, r3.Vec{}, false
	}
	a, b, c := m.BVH.Triangle(triangle)
	n := TriangleNormal(a, b, c)
	if r3.Norm2(n) == 0 {
		return r3.Vec{}, r3.Vec{}, false
	}
	return Barycentric(a, b, c, bary), n, true
}

func (m *MeshCollider) ProjectToTriangle(triangle int, p r3.Vec) (Surface, bool) {
	if !m.Valid() || triangle < 0 || triangle >= m.BVH.TriangleCount() {
		return Surface{}, false
	}
	a, b, c := m.BVH.Triangle(triangle)
	n := TriangleNormal(a, b, c)
	if r3.Norm2(n) == 0 {
		return Surface{}, false
	}
	cp, bary := ClosestPointOnTriangle(p, a, b, c)
	hit := Hit{Triangle: triangle, Point: cp, Bary: bary, Normal: n, Distance: r3.Norm(r3.Sub(p, cp))}
	return m.surface(p, hit), true
}

func (m *MeshCollider) BonePose(bone int) (mgl64.Mat4, bool) {
	return m.BVH.BonePose(bone)
}
