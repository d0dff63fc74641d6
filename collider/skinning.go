package collider

import (
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

// BoneWeight is one skinning influence on a vertex.
type BoneWeight struct {
	Bone   int
	Weight float64
}

// SkinnedMesh is the bind-pose geometry of an animated mesh.
type SkinnedMesh struct {
	BindPositions []r3.Vec
	Indices       []uint32       // three per triangle
	Influences    [][]BoneWeight // per vertex; nil or empty = rigid
}

// TriangleCount returns the number of complete triangles in the index buffer.
func (m *SkinnedMesh) TriangleCount() int {
	if m == nil {
		return 0
	}
	return len(m.Indices) / 3
}

// SkinningSource supplies an animated mesh and its current skeleton pose.
// It is implemented by the host's skeletal mesh component.
type SkinningSource interface {
	Mesh() *SkinnedMesh
	// BoneTransforms returns the world-from-bind matrix of every bone for the
	// current frame. Rigid vertices use Root instead.
	BoneTransforms() []mgl64.Mat4
	Root() mgl64.Mat4
}

// Dispatcher splits a loop of n independent iterations into chunks.
// A nil Dispatcher runs the loop inline.
type Dispatcher interface {
	For(n int, fn func(start, end int))
}

func dispatch(d Dispatcher, n int, fn func(start, end int)) {
	if d == nil {
		fn(0, n)
		return
	}
	d.For(n, fn)
}

// skinVertex applies linear blend skinning to one bind-pose vertex.
func skinVertex(bind r3.Vec, influences []BoneWeight, bones []mgl64.Mat4, root mgl64.Mat4) r3.Vec {
	if len(influences) == 0 {
		return TransformPoint(root, bind)
	}

	src := toMgl(bind).Vec4(1)
	var acc mgl64.Vec4
	total := 0.0
	for _, inf := range influences {
		if inf.Bone < 0 || inf.Bone >= len(bones) || inf.Weight <= 0 {
			continue
		}
		acc = acc.Add(bones[inf.Bone].Mul4x1(src).Mul(inf.Weight))
		total += inf.Weight
	}
	if total <= 0 {
		return TransformPoint(root, bind)
	}
	return fromMgl(acc.Mul(1 / total).Vec3())
}

// dominantBone returns the bone with the largest weight on a vertex, or -1.
func dominantBone(influences []BoneWeight) int {
	best, bone := 0.0, -1
	for _, inf := range influences {
		if inf.Weight > best {
			best, bone = inf.Weight, inf.Bone
		}
	}
	return bone
}

// Rig is a SkinningSource whose pose is set directly by the caller.
type Rig struct {
	Geometry *SkinnedMesh
	Bones    []mgl64.Mat4
	RootPose mgl64.Mat4
}

// NewRig returns a rig with every bone and the root at identity.
func NewRig(mesh *SkinnedMesh, bones int) *Rig {
	r := &Rig{Geometry: mesh, Bones: make([]mgl64.Mat4, bones), RootPose: mgl64.Ident4()}
	for i := range r.Bones {
		r.Bones[i] = mgl64.Ident4()
	}
	return r
}

func (r *Rig) Mesh() *SkinnedMesh            { return r.Geometry }
func (r *Rig) BoneTransforms() []mgl64.Mat4 { return r.Bones }
func (r *Rig) Root() mgl64.Mat4             { return r.RootPose }
