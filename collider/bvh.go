package collider

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrNoIndices is returned when a mesh has no index buffer.
	ErrNoIndices = errors.New("mesh has no index buffer")
	// ErrEmptyMesh is returned when a mesh has no triangles.
	ErrEmptyMesh = errors.New("mesh has no triangles")
	// ErrBadIndex is returned when an index refers past the vertex buffer.
	ErrBadIndex = errors.New("mesh index out of range")
)

// maxTrianglesPerLeaf is the threshold for splitting BVH nodes.
const maxTrianglesPerLeaf = 4

// bvhNode is either internal (left >= 0) or a leaf over order[start:start+count].
type bvhNode struct {
	bounds      r3.Box
	left, right int32
	start       int32
	count       int32
}

func (n *bvhNode) leaf() bool { return n.left < 0 }

// SkeletalMeshBVH is a bounding volume hierarchy over the triangles of a
// skinned mesh. The tree topology is fixed when it is built; every frame the
// vertices are re-skinned and node bounds refit bottom-up.
//
// Children are always stored after their parent, so refitting is a single
// reverse pass over the node array.
type SkeletalMeshBVH struct {
	source   SkinningSource
	mesh     *SkinnedMesh
	vertices []r3.Vec // skinned positions for the current frame
	order    []int32  // triangle ids in leaf order
	nodes    []bvhNode
	valid    bool
}

// Hit is the result of a closest-triangle query.
type Hit struct {
	Triangle int
	Point    r3.Vec
	Bary     [3]float64
	Normal   r3.Vec // face normal
	Distance float64
}

// Build skins the source's current pose and partitions its triangles. On
// failure the BVH is left invalid and every query returns nothing.
func (b *SkeletalMeshBVH) Build(src SkinningSource) error {
	b.valid = false
	b.nodes = b.nodes[:0]
	b.order = b.order[:0]

	if src == nil || src.Mesh() == nil {
		return ErrEmptyMesh
	}
	mesh := src.Mesh()
	if len(mesh.Indices) == 0 {
		return ErrNoIndices
	}
	numTris := mesh.TriangleCount()
	if numTris == 0 || len(mesh.BindPositions) == 0 {
		return ErrEmptyMesh
	}
	for _, idx := range mesh.Indices[:numTris*3] {
		if int(idx) >= len(mesh.BindPositions) {
			return ErrBadIndex
		}
	}

	b.source = src
	b.mesh = mesh
	b.vertices = make([]r3.Vec, len(mesh.BindPositions))
	b.Reskin(nil)

	centroids := make([]r3.Vec, numTris)
	b.order = make([]int32, numTris)
	for t := 0; t < numTris; t++ {
		b.order[t] = int32(t)
		p0, p1, p2 := b.Triangle(t)
		centroids[t] = r3.Scale(1.0/3.0, r3.Add(p0, r3.Add(p1, p2)))
	}

	b.nodes = make([]bvhNode, 0, 2*numTris/maxTrianglesPerLeaf+1)
	b.build(0, numTris, centroids)
	b.valid = true
	return nil
}

// build creates the node covering order[start:end] and returns its index.
func (b *SkeletalMeshBVH) build(start, end int, centroids []r3.Vec) int32 {
	idx := int32(len(b.nodes))
	b.nodes = append(b.nodes, bvhNode{left: -1, right: -1})

	bounds := emptyBox()
	for _, t := range b.order[start:end] {
		bounds = unionBox(bounds, b.triangleBounds(int(t)))
	}
	b.nodes[idx].bounds = bounds

	count := end - start
	if count <= maxTrianglesPerLeaf {
		b.nodes[idx].start = int32(start)
		b.nodes[idx].count = int32(count)
		return idx
	}

	// Split at the median centroid along the longest axis
	axis := longestAxis(bounds)
	mid := start + count/2
	selectNth(b.order[start:end], mid-start, func(t int32) float64 {
		return axisValue(centroids[t], axis)
	})

	left := b.build(start, mid, centroids)
	right := b.build(mid, end, centroids)
	b.nodes[idx].left = left
	b.nodes[idx].right = right
	return idx
}

func longestAxis(box r3.Box) int {
	size := r3.Sub(box.Max, box.Min)
	if size.X >= size.Y && size.X >= size.Z {
		return 0
	}
	if size.Y >= size.Z {
		return 1
	}
	return 2
}

func axisValue(v r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

// selectNth partially orders ids so that ids[k] holds the element that would be
// there if sorted by key, smaller keys before it and larger after (quickselect).
func selectNth(ids []int32, k int, key func(int32) float64) {
	lo, hi := 0, len(ids)-1
	for lo < hi {
		pivot := key(ids[(lo+hi)/2])
		i, j := lo, hi
		for i <= j {
			for key(ids[i]) < pivot {
				i++
			}
			for key(ids[j]) > pivot {
				j--
			}
			if i <= j {
				ids[i], ids[j] = ids[j], ids[i]
				i++
				j--
			}
		}
		switch {
		case k <= j:
			hi = j
		case k >= i:
			lo = i
		default:
			return
		}
	}
}

// IsValid reports whether the BVH was built successfully.
func (b *SkeletalMeshBVH) IsValid() bool { return b != nil && b.valid }

// TriangleCount returns the number of triangles in the tree.
func (b *SkeletalMeshBVH) TriangleCount() int { return len(b.order) }

// NodeCount returns the number of tree nodes.
func (b *SkeletalMeshBVH) NodeCount() int { return len(b.nodes) }

// Rebind points the BVH at src without rebuilding. It fails unless src skins
// the same geometry the tree was built over.
func (b *SkeletalMeshBVH) Rebind(src SkinningSource) bool {
	if !b.valid || src == nil || src.Mesh() != b.mesh {
		return false
	}
	b.source = src
	return true
}

// Source returns the skinning source the BVH was built from.
func (b *SkeletalMeshBVH) Source() SkinningSource { return b.source }

// Bounds returns the root bounds, or an empty box when invalid.
func (b *SkeletalMeshBVH) Bounds() r3.Box {
	if !b.IsValid() {
		return emptyBox()
	}
	return b.nodes[0].bounds
}

// Triangle returns the current skinned corners of triangle t.
func (b *SkeletalMeshBVH) Triangle(t int) (r3.Vec, r3.Vec, r3.Vec) {
	i := b.mesh.Indices[3*t : 3*t+3]
	return b.vertices[i[0]], b.vertices[i[1]], b.vertices[i[2]]
}

func (b *SkeletalMeshBVH) triangleBounds(t int) r3.Box {
	p0, p1, p2 := b.Triangle(t)
	return growBox(growBox(growBox(emptyBox(), p0), p1), p2)
}

// Reskin refreshes the vertex positions from the source's current pose. The
// loop over vertices is dispatched through d.
func (b *SkeletalMeshBVH) Reskin(d Dispatcher) {
	if b.source == nil || b.mesh == nil {
		return
	}
	bones := b.source.BoneTransforms()
	root := b.source.Root()
	mesh := b.mesh
	dispatch(d, len(b.vertices), func(start, end int) {
		for v := start; v < end; v++ {
			var inf []BoneWeight
			if v < len(mesh.Influences) {
				inf = mesh.Influences[v]
			}
			b.vertices[v] = skinVertex(mesh.BindPositions[v], inf, bones, root)
		}
	})
}

// Refit recomputes node bounds bottom-up without re-partitioning.
func (b *SkeletalMeshBVH) Refit() {
	if !b.IsValid() {
		return
	}
	for i := len(b.nodes) - 1; i >= 0; i-- {
		n := &b.nodes[i]
		if n.leaf() {
			bounds := emptyBox()
			for _, t := range b.order[n.start : n.start+n.count] {
				bounds = unionBox(bounds, b.triangleBounds(int(t)))
			}
			n.bounds = bounds
			continue
		}
		n.bounds = unionBox(b.nodes[n.left].bounds, b.nodes[n.right].bounds)
	}
}

// Update re-skins and refits; called once per frame.
func (b *SkeletalMeshBVH) Update(d Dispatcher) {
	if !b.IsValid() {
		return
	}
	b.Reskin(d)
	b.Refit()
}

// QuerySphere appends the ids of triangles in leaves whose bounds overlap the
// sphere's bounding box. Results are candidates; callers test exact distance.
func (b *SkeletalMeshBVH) QuerySphere(center r3.Vec, radius float64, dst []int) []int {
	if !b.IsValid() {
		return dst
	}
	r2 := radius * radius
	var stack [64]int32
	sp := 0
	stack[sp] = 0
	sp++
	for sp > 0 {
		sp--
		n := &b.nodes[stack[sp]]
		if boxDistanceSq(n.bounds, center) > r2 {
			continue
		}
		if n.leaf() {
			for _, t := range b.order[n.start : n.start+n.count] {
				dst = append(dst, int(t))
			}
			continue
		}
		stack[sp] = n.left
		stack[sp+1] = n.right
		sp += 2
	}
	return dst
}

// QueryAABB appends the ids of triangles in leaves whose bounds overlap box.
func (b *SkeletalMeshBVH) QueryAABB(box r3.Box, dst []int) []int {
	if !b.IsValid() {
		return dst
	}
	var stack [64]int32
	sp := 0
	stack[sp] = 0
	sp++
	for sp > 0 {
		sp--
		n := &b.nodes[stack[sp]]
		if !BoxesOverlap(n.bounds, box) {
			continue
		}
		if n.leaf() {
			for _, t := range b.order[n.start : n.start+n.count] {
				dst = append(dst, int(t))
			}
			continue
		}
		stack[sp] = n.left
		stack[sp+1] = n.right
		sp += 2
	}
	return dst
}

// QueryClosestTriangle finds the triangle closest to p within maxDist. Branches
// are pruned against the best distance found so far and the nearer child is
// visited first.
func (b *SkeletalMeshBVH) QueryClosestTriangle(p r3.Vec, maxDist float64) (Hit, bool) {
	if !b.IsValid() {
		return Hit{}, false
	}
	best := maxDist * maxDist
	if math.IsInf(maxDist, 1) {
		best = math.Inf(1)
	}
	hit := Hit{Triangle: -1}

	var stack [64]int32
	sp := 0
	stack[sp] = 0
	sp++
	for sp > 0 {
		sp--
		n := &b.nodes[stack[sp]]
		if boxDistanceSq(n.bounds, p) > best {
			continue
		}
		if n.leaf() {
			for _, t := range b.order[n.start : n.start+n.count] {
				a, bb, c := b.Triangle(int(t))
				cp, bary := ClosestPointOnTriangle(p, a, bb, c)
				d2 := r3.Norm2(r3.Sub(p, cp))
				if d2 <= best {
					best = d2
					hit = Hit{Triangle: int(t), Point: cp, Bary: bary, Normal: TriangleNormal(a, bb, c)}
				}
			}
			continue
		}
		dl := boxDistanceSq(b.nodes[n.left].bounds, p)
		dr := boxDistanceSq(b.nodes[n.right].bounds, p)
		// Push the farther child first so the nearer one is popped next
		if dl <= dr {
			stack[sp] = n.right
			stack[sp+1] = n.left
		} else {
			stack[sp] = n.left
			stack[sp+1] = n.right
		}
		sp += 2
	}

	if hit.Triangle < 0 {
		return Hit{}, false
	}
	hit.Distance = math.Sqrt(best)
	return hit, true
}

// TriangleBone returns the dominant bone of the triangle corner with the
// largest barycentric weight, or -1 for rigid geometry.
func (b *SkeletalMeshBVH) TriangleBone(t int, bary [3]float64) int {
	corner := 0
	if bary[1] > bary[corner] {
		corner = 1
	}
	if bary[2] > bary[corner] {
		corner = 2
	}
	v := b.mesh.Indices[3*t+corner]
	if int(v) >= len(b.mesh.Influences) {
		return -1
	}
	return dominantBone(b.mesh.Influences[v])
}

// BonePose returns the current transform of a bone from the source.
func (b *SkeletalMeshBVH) BonePose(bone int) (mgl64.Mat4, bool) {
	if !b.IsValid() {
		return mgl64.Ident4(), false
	}
	bones := b.source.BoneTransforms()
	if bone < 0 || bone >= len(bones) {
		return mgl64.Ident4(), false
	}
	return bones[bone], true
}
