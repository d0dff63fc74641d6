package sim

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/collider"
	"github.com/pthm-cable/drip/components"
	"github.com/pthm-cable/drip/config"
)

// cubeRig returns a rig over a closed cube [-h,h]^3 with outward triangles,
// every vertex bound to bone 0.
func cubeRig(h float64) *collider.Rig {
	m := &collider.SkinnedMesh{}
	for i := 0; i < 8; i++ {
		v := r3.Vec{X: -h, Y: -h, Z: -h}
		if i&1 != 0 {
			v.X = h
		}
		if i&2 != 0 {
			v.Y = h
		}
		if i&4 != 0 {
			v.Z = h
		}
		m.BindPositions = append(m.BindPositions, v)
		m.Influences = append(m.Influences, []collider.BoneWeight{{Bone: 0, Weight: 1}})
	}
	quads := [][4]uint32{
		{0, 1, 3, 2}, {4, 5, 7, 6},
		{0, 1, 5, 4}, {2, 3, 7, 6},
		{0, 2, 6, 4}, {1, 3, 7, 5},
	}
	for _, q := range quads {
		for _, tri := range [][3]uint32{{q[0], q[1], q[2]}, {q[0], q[2], q[3]}} {
			a, b, c := m.BindPositions[tri[0]], m.BindPositions[tri[1]], m.BindPositions[tri[2]]
			mid := r3.Scale(1.0/3, r3.Add(a, r3.Add(b, c)))
			if r3.Dot(collider.TriangleNormal(a, b, c), mid) < 0 {
				tri[1], tri[2] = tri[2], tri[1]
			}
			m.Indices = append(m.Indices, tri[0], tri[1], tri[2])
		}
	}
	return collider.NewRig(m, 1)
}

func ptr(v float64) *float64 { return &v }

// valueRig is a skinning source held by value. Its slice field makes it
// incomparable.
type valueRig struct {
	mesh  *collider.SkinnedMesh
	bones []mgl64.Mat4
}

func (r valueRig) Mesh() *collider.SkinnedMesh  { return r.mesh }
func (r valueRig) BoneTransforms() []mgl64.Mat4 { return r.bones }
func (r valueRig) Root() mgl64.Mat4             { return mgl64.Ident4() }

func TestScene_BuildEntries(t *testing.T) {
	cfg := config.Default()
	scene := NewScene()
	cache := NewBVHCache()

	floor := scene.AddCollider(collider.NewBox(r3.Vec{Z: -10}, r3.Vec{X: 100, Y: 100, Z: 10},
		collider.Material{Friction: 0.4, Restitution: 0.2}), 1)
	ball := scene.AddCollider(&collider.Sphere{Center: r3.Vec{Z: 30}, Radius: 5}, 2)
	mesh := scene.AddInteraction(components.Interaction{
		Source:   cubeRig(10),
		Channel:  1,
		Friction: ptr(0.9),
		Adhesion: ptr(7),
	})
	if scene.Len() != 3 {
		t.Fatalf("Len = %d, want 3", scene.Len())
	}

	scene.syncCache(cache, &cfg.Polygon)
	entries := scene.BuildEntries(nil, cfg, cache)
	if len(entries) != 3 {
		t.Fatalf("built %d entries, want 3", len(entries))
	}

	byOwner := map[ecs.Entity]int{}
	for i := range entries {
		byOwner[entries[i].Owner] = i
	}

	f := entries[byOwner[floor]]
	if f.PerPolygon || f.Response.Friction != 0.4 || f.Response.Restitution != 0.2 ||
		f.Response.Margin != cfg.Collision.Margin || f.Response.Adhesion != cfg.Fluid.AdhesionStrength {
		t.Errorf("floor entry = %+v", f)
	}
	if b := entries[byOwner[ball]]; b.Channel != 2 {
		t.Errorf("ball channel = %d, want 2", b.Channel)
	}

	m := entries[byOwner[mesh]]
	if !m.PerPolygon || m.Mesh == nil || !m.Mesh.Valid() {
		t.Fatalf("mesh entry = %+v", m)
	}
	want := cfg.Polygon
	if m.Response.Friction != 0.9 || m.Response.Adhesion != 7 ||
		m.Response.Restitution != want.Restitution || m.Response.Margin != want.Margin {
		t.Errorf("mesh response = %+v", m.Response)
	}
}

func TestScene_PolygonDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Polygon.Enabled = false
	scene := NewScene()
	cache := NewBVHCache()
	scene.AddInteraction(components.Interaction{Source: cubeRig(10), Channel: 1})

	scene.syncCache(cache, &cfg.Polygon)
	if entries := scene.BuildEntries(nil, cfg, cache); len(entries) != 0 {
		t.Errorf("disabled polygon pass built %d entries", len(entries))
	}
}

func TestScene_Remove(t *testing.T) {
	scene := NewScene()
	e := scene.AddCollider(&collider.Sphere{Radius: 1}, 1)
	if !scene.Remove(e) {
		t.Fatal("Remove of a live entity returned false")
	}
	if scene.Alive(e) || scene.Len() != 0 {
		t.Error("entity still registered")
	}
	if scene.Remove(e) {
		t.Error("second Remove returned true")
	}
}

// ---------- BVH cache ----------

func TestBVHCache_Lifecycle(t *testing.T) {
	scene := NewScene()
	cache := NewBVHCache()
	rig := cubeRig(10)

	good := scene.AddInteraction(components.Interaction{Source: rig, Channel: 1})
	bad := scene.AddInteraction(components.Interaction{Source: collider.NewRig(&collider.SkinnedMesh{}, 1), Channel: 1})

	mesh, err := cache.Ensure(good, rig, collider.Material{})
	if err != nil || !mesh.Valid() {
		t.Fatalf("Ensure(good): valid=%v err=%v", mesh.Valid(), err)
	}
	again, _ := cache.Ensure(good, rig, collider.Material{Friction: 0.5})
	if again != mesh || again.Mat.Friction != 0.5 {
		t.Error("Ensure rebuilt an unchanged source or ignored the new material")
	}

	badMesh, err := cache.Ensure(bad, collider.NewRig(&collider.SkinnedMesh{}, 1), collider.Material{})
	if !errors.Is(err, collider.ErrEmptyMesh) || badMesh.Valid() {
		t.Errorf("Ensure(bad): valid=%v err=%v", badMesh.Valid(), err)
	}
	if cache.Len() != 2 {
		t.Fatalf("Len = %d, want 2", cache.Len())
	}

	// Moving the bone and refitting moves the bounds
	rig.Bones[0][14] = 5 // translate z
	cache.Update(nil)
	if got := mesh.Bounds().Max.Z; got != 15 {
		t.Errorf("bounds max z after refit = %v, want 15", got)
	}

	scene.Remove(good)
	if n := cache.Collect(scene.Alive); n != 1 {
		t.Errorf("Collect dropped %d, want 1", n)
	}
	if _, ok := cache.Get(good); ok {
		t.Error("dead entry still cached")
	}
	if _, ok := cache.Get(bad); !ok {
		t.Error("live entry dropped")
	}
}

func TestBVHCache_ValueSource(t *testing.T) {
	scene := NewScene()
	cache := NewBVHCache()
	geometry := cubeRig(10).Geometry
	e := scene.AddInteraction(components.Interaction{
		Source:  valueRig{mesh: geometry, bones: []mgl64.Mat4{mgl64.Ident4()}},
		Channel: 1,
	})

	mesh, err := cache.Ensure(e, valueRig{mesh: geometry, bones: []mgl64.Mat4{mgl64.Ident4()}}, collider.Material{})
	if err != nil || !mesh.Valid() {
		t.Fatalf("Ensure: valid=%v err=%v", mesh.Valid(), err)
	}

	// A fresh value over the same geometry keeps the tree and follows its bones
	moved := valueRig{mesh: geometry, bones: []mgl64.Mat4{mgl64.Translate3D(0, 0, 5)}}
	again, err := cache.Ensure(e, moved, collider.Material{})
	if err != nil || again != mesh {
		t.Fatalf("Ensure rebuilt for unchanged geometry: same=%v err=%v", again == mesh, err)
	}
	cache.Update(nil)
	if got := mesh.Bounds().Max.Z; got != 15 {
		t.Errorf("bounds max z after refit = %v, want 15", got)
	}

	// New geometry rebuilds
	other, err := cache.Ensure(e, valueRig{mesh: cubeRig(4).Geometry, bones: []mgl64.Mat4{mgl64.Ident4()}}, collider.Material{})
	if err != nil || other == mesh {
		t.Fatalf("Ensure kept the tree for new geometry: err=%v", err)
	}
	if got := other.Bounds().Max.Z; got != 4 {
		t.Errorf("rebuilt bounds max z = %v, want 4", got)
	}
	if cache.Len() != 1 {
		t.Errorf("Len = %d, want 1", cache.Len())
	}
}
