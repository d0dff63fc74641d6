package systems

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestPerlinNoise_Properties(t *testing.T) {
	a := NewPerlinNoise(7)
	b := NewPerlinNoise(7)

	for i := 0; i < 200; i++ {
		p := r3.Vec{X: float64(i) * 0.37, Y: float64(i) * 0.11, Z: float64(i) * 0.73}
		va, vb := a.Sample(p), b.Sample(p)
		if va != vb {
			t.Fatalf("same seed differs at %v: %v vs %v", p, va, vb)
		}
		if math.Abs(va) > 1.5 {
			t.Fatalf("sample %v out of range at %v", va, p)
		}
	}

	// Gradient noise vanishes on lattice points
	if v := a.Sample(r3.Vec{X: 3, Y: -2, Z: 5}); v != 0 {
		t.Errorf("lattice sample = %v, want 0", v)
	}
}

func TestPerlinNoise_Continuous(t *testing.T) {
	n := NewPerlinNoise(1)
	p := r3.Vec{X: 1.3, Y: 2.7, Z: 0.4}
	q := r3.Add(p, r3.Vec{X: 1e-6})
	if d := math.Abs(n.Sample(p) - n.Sample(q)); d > 1e-4 {
		t.Errorf("jump of %v over 1e-6", d)
	}
}

func TestTurbulence_At(t *testing.T) {
	var nilField *Turbulence
	if got := nilField.At(r3.Vec{X: 1}, 0); got != (r3.Vec{}) {
		t.Errorf("nil field = %v", got)
	}

	f := NewTurbulence(3, 20, 50, 0.5)
	seen := false
	for i := 0; i < 50; i++ {
		a := f.At(r3.Vec{X: float64(i) * 3.3, Y: 7, Z: -4}, 0.2)
		if !finite(a) {
			t.Fatalf("non-finite acceleration %v", a)
		}
		if math.Abs(a.X) > 75 || math.Abs(a.Y) > 75 || math.Abs(a.Z) > 75 {
			t.Fatalf("acceleration %v exceeds strength bound", a)
		}
		if r3.Norm(a) > 0 {
			seen = true
		}
	}
	if !seen {
		t.Error("turbulence produced no force")
	}

	// Time moves the field
	p := r3.Vec{X: 13, Y: 5, Z: 2}
	if f.At(p, 0) == f.At(p, 1.7) {
		t.Error("field did not change over time")
	}
}
