package collider

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func nearVec(a, b r3.Vec, tol float64) bool {
	return r3.Norm(r3.Sub(a, b)) <= tol
}

func TestPrimitiveSignedDistance(t *testing.T) {
	rotated := &Box{
		HalfExtents: r3.Vec{X: 1, Y: 2, Z: 3},
		Rotation:    mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1}),
	}

	tests := []struct {
		name     string
		c        Collider
		p        r3.Vec
		wantDist float64
		wantN    r3.Vec
	}{
		{"sphere outside", &Sphere{Radius: 2}, r3.Vec{X: 3}, 1, r3.Vec{X: 1}},
		{"sphere inside", &Sphere{Radius: 2}, r3.Vec{Y: -1}, -1, r3.Vec{Y: -1}},
		{"sphere surface", &Sphere{Center: r3.Vec{Z: 5}, Radius: 2}, r3.Vec{Z: 7}, 0, r3.Vec{Z: 1}},
		{"capsule side", &Capsule{B: r3.Vec{Z: 10}, Radius: 1}, r3.Vec{X: 2, Z: 5}, 1, r3.Vec{X: 1}},
		{"capsule cap", &Capsule{B: r3.Vec{Z: 10}, Radius: 1}, r3.Vec{Z: 12}, 1, r3.Vec{Z: 1}},
		{"capsule inside", &Capsule{B: r3.Vec{Z: 10}, Radius: 1}, r3.Vec{Y: 0.5, Z: 3}, -0.5, r3.Vec{Y: 1}},
		{"box face", NewBox(r3.Vec{}, r3.Vec{X: 1, Y: 2, Z: 3}, Material{}), r3.Vec{X: 3}, 2, r3.Vec{X: 1}},
		{"box inside", NewBox(r3.Vec{}, r3.Vec{X: 1, Y: 2, Z: 3}, Material{}), r3.Vec{X: 0.5}, -0.5, r3.Vec{X: 1}},
		{"box corner", NewBox(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, Material{}), r3.Vec{X: 2, Y: 2, Z: 2}, math.Sqrt(3), r3.Vec{X: 1 / math.Sqrt(3), Y: 1 / math.Sqrt(3), Z: 1 / math.Sqrt(3)}},
		{"box zero rotation", &Box{Center: r3.Vec{Z: -1}, HalfExtents: r3.Vec{X: 5, Y: 5, Z: 1}}, r3.Vec{Z: 0.5}, 0.5, r3.Vec{Z: 1}},
		{"box rotated", rotated, r3.Vec{Y: 3}, 2, r3.Vec{Y: 1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, n := tc.c.SignedDistance(tc.p)
			if !near(d, tc.wantDist, 1e-9) {
				t.Errorf("distance = %v, want %v", d, tc.wantDist)
			}
			if !nearVec(n, tc.wantN, 1e-9) {
				t.Errorf("normal = %v, want %v", n, tc.wantN)
			}
			if got := tc.c.Contains(tc.p); got != (tc.wantDist <= 0) {
				t.Errorf("Contains = %v with distance %v", got, tc.wantDist)
			}
		})
	}
}

// TestPrimitiveGradientMatchesFiniteDifference checks the returned gradient
// against a numeric derivative of the distance at points off the surface.
func TestPrimitiveGradientMatchesFiniteDifference(t *testing.T) {
	shapes := map[string]Collider{
		"sphere":  &Sphere{Center: r3.Vec{X: 1, Y: -2, Z: 0.5}, Radius: 3},
		"capsule": &Capsule{A: r3.Vec{X: -2}, B: r3.Vec{X: 4, Y: 1, Z: 2}, Radius: 1.5},
		"box": &Box{
			Center:      r3.Vec{X: 1},
			HalfExtents: r3.Vec{X: 2, Y: 1, Z: 0.5},
			Rotation:    mgl64.QuatRotate(0.4, mgl64.Vec3{1, 1, 0}.Normalize()),
		},
	}
	points := []r3.Vec{
		{X: 7, Y: 3, Z: 1},
		{X: -5, Y: 1, Z: -4},
		{X: 2, Y: 6, Z: 6},
	}

	const h = 1e-6
	for name, c := range shapes {
		t.Run(name, func(t *testing.T) {
			for _, p := range points {
				_, n := c.SignedDistance(p)
				var g r3.Vec
				dx := func(off r3.Vec) float64 {
					a, _ := c.SignedDistance(r3.Add(p, off))
					b, _ := c.SignedDistance(r3.Sub(p, off))
					return (a - b) / (2 * h)
				}
				g.X = dx(r3.Vec{X: h})
				g.Y = dx(r3.Vec{Y: h})
				g.Z = dx(r3.Vec{Z: h})
				if !nearVec(n, g, 1e-4) {
					t.Errorf("at %v: gradient %v, finite difference %v", p, n, g)
				}
			}
		})
	}
}

func TestClosestPointLiesOnSurface(t *testing.T) {
	shapes := []Collider{
		&Sphere{Radius: 2},
		&Capsule{B: r3.Vec{Z: 4}, Radius: 1},
		NewBox(r3.Vec{X: 1}, r3.Vec{X: 1, Y: 2, Z: 3}, Material{}),
	}
	p := r3.Vec{X: 5, Y: 1, Z: 2}
	for _, c := range shapes {
		t.Run(c.Kind().String(), func(t *testing.T) {
			cp := c.ClosestPoint(p)
			d, _ := c.SignedDistance(cp)
			if !near(d, 0, 1e-9) {
				t.Errorf("closest point %v has distance %v", cp, d)
			}
		})
	}
}

func TestBoxBoundsAndPose(t *testing.T) {
	b := NewBox(r3.Vec{X: 1, Y: 2, Z: 3}, r3.Vec{X: 1, Y: 1, Z: 2}, Material{Friction: 0.5})
	bounds := b.Bounds()
	if !nearVec(bounds.Min, r3.Vec{X: 0, Y: 1, Z: 1}, 1e-9) || !nearVec(bounds.Max, r3.Vec{X: 2, Y: 3, Z: 5}, 1e-9) {
		t.Errorf("bounds = %+v", bounds)
	}
	if got := TransformPoint(b.Pose(), r3.Vec{}); !nearVec(got, b.Center, 1e-9) {
		t.Errorf("pose origin = %v, want %v", got, b.Center)
	}
	if b.Material().Friction != 0.5 {
		t.Errorf("material not preserved")
	}
}

func TestCapsulePoseAxis(t *testing.T) {
	c := &Capsule{A: r3.Vec{X: 0}, B: r3.Vec{X: 4}, Radius: 1}
	pose := c.Pose()
	if got := TransformPoint(pose, r3.Vec{}); !nearVec(got, r3.Vec{X: 2}, 1e-9) {
		t.Errorf("origin = %v, want midpoint", got)
	}
	if got := TransformDirection(pose, r3.Vec{Z: 1}); !nearVec(got, r3.Vec{X: 1}, 1e-9) {
		t.Errorf("local z maps to %v, want x axis", got)
	}
	p := r3.Vec{X: 3, Y: 5}
	if got := TransformPoint(pose, InverseTransformPoint(pose, p)); !nearVec(got, p, 1e-9) {
		t.Errorf("round trip = %v", got)
	}
}

func TestQueryPrimitive(t *testing.T) {
	s := &Sphere{Radius: 1}
	surf, ok := Query(s, r3.Vec{X: 3}, 5)
	if !ok {
		t.Fatal("expected sphere within range")
	}
	if surf.Triangle != -1 || surf.Bone != -1 {
		t.Errorf("primitive surface has feature ids %d/%d", surf.Triangle, surf.Bone)
	}
	if !nearVec(surf.Point, r3.Vec{X: 1}, 1e-9) {
		t.Errorf("surface point = %v", surf.Point)
	}
	if _, ok := Query(s, r3.Vec{X: 10}, 5); ok {
		t.Error("expected sphere out of range")
	}
}
