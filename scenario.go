package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/collider"
	"github.com/pthm-cable/drip/components"
	"github.com/pthm-cable/drip/sim"
)

// scenario is the demo scene: a floor, a ball, a rotating compound obstacle
// and a two-bone strip that waves.
type scenario struct {
	compound *collider.SimplifiedMesh
	strip    *collider.Rig
	pivot    r3.Vec
}

// newScenario registers the demo colliders.
func newScenario(s *sim.Simulation) (*scenario, error) {
	scene := s.Scene()
	channel := s.Config().Fluid.CollisionChannel

	scene.AddCollider(collider.NewBox(r3.Vec{Z: -10}, r3.Vec{X: 120, Y: 120, Z: 10},
		collider.Material{Friction: 0.2}), channel)
	scene.AddCollider(&collider.Sphere{Center: r3.Vec{X: -30, Z: 12}, Radius: 12,
		Mat: collider.Material{Friction: 0.1, Restitution: 0.2}}, channel)
	scene.AddCollider(&collider.Capsule{A: r3.Vec{X: 30, Y: -40, Z: 6}, B: r3.Vec{X: 30, Y: 40, Z: 6}, Radius: 6}, channel)

	compound, err := collider.NewSimplifiedMesh([]collider.Element{
		{Shape: collider.ElementBox, Size: r3.Vec{X: 30, Y: 6, Z: 6}, Round: 1},
		{Shape: collider.ElementCylinder, Radius: 4, Height: 20, Offset: r3.Vec{X: 15}},
		{Shape: collider.ElementSphere, Radius: 6, Offset: r3.Vec{X: -15}},
	}, mgl64.Translate3D(0, 30, 25), collider.Material{Friction: 0.3})
	if err != nil {
		return nil, err
	}
	scene.AddCollider(compound, channel)

	pivot := r3.Vec{X: 20, Z: 45}
	strip := collider.NewRig(stripMesh(r3.Vec{Z: 45}, 40, 20, 8), 2)
	scene.AddInteraction(components.Interaction{Source: strip, Channel: channel})

	return &scenario{compound: compound, strip: strip, pivot: pivot}, nil
}

// animate poses the moving colliders for simulated time t.
func (sc *scenario) animate(t float64) {
	sc.compound.SetPose(mgl64.Translate3D(0, 30, 25).Mul4(mgl64.HomogRotate3DZ(0.5 * t)))

	p := sc.pivot
	angle := 0.5 * math.Sin(2*t)
	sc.strip.Bones[1] = mgl64.Translate3D(p.X, p.Y, p.Z).
		Mul4(mgl64.HomogRotate3DY(angle)).
		Mul4(mgl64.Translate3D(-p.X, -p.Y, -p.Z))
}

// stripMesh builds a flat strip starting at origin, length along x and width
// along y, split into segments quads. The first half is bound to bone 0 and
// the second to bone 1, blended across the middle.
func stripMesh(origin r3.Vec, length, width float64, segments int) *collider.SkinnedMesh {
	m := &collider.SkinnedMesh{}
	for i := 0; i <= segments; i++ {
		u := float64(i) / float64(segments)
		for _, y := range []float64{-width / 2, width / 2} {
			m.BindPositions = append(m.BindPositions, r3.Add(origin, r3.Vec{X: u * length, Y: y}))
			w1 := math.Min(math.Max((u-0.4)/0.2, 0), 1)
			m.Influences = append(m.Influences, []collider.BoneWeight{
				{Bone: 0, Weight: 1 - w1},
				{Bone: 1, Weight: w1},
			})
		}
	}
	for i := 0; i < segments; i++ {
		a := uint32(2 * i)
		// Counter-clockwise seen from +z
		m.Indices = append(m.Indices, a, a+2, a+3, a, a+3, a+1)
	}
	return m
}

// blockPositions returns an n^3 lattice with the given spacing whose lowest
// corner is at origin.
func blockPositions(origin r3.Vec, n int, spacing float64) []r3.Vec {
	out := make([]r3.Vec, 0, n*n*n)
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				out = append(out, r3.Add(origin, r3.Vec{
					X: float64(x) * spacing,
					Y: float64(y) * spacing,
					Z: float64(z) * spacing,
				}))
			}
		}
	}
	return out
}
