package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// clamp01 clamps a value to the [0, 1] range.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// finite reports whether every component of v is a finite number.
func finite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}

// splitNormal decomposes v into its component along unit n and the rest.
func splitNormal(v, n r3.Vec) (vn float64, vt r3.Vec) {
	vn = r3.Dot(v, n)
	return vn, r3.Sub(v, r3.Scale(vn, n))
}

// tangential removes the component of v along unit n.
func tangential(v, n r3.Vec) r3.Vec {
	_, vt := splitNormal(v, n)
	return vt
}

// unitOr normalizes v, returning fallback for near-zero vectors.
func unitOr(v, fallback r3.Vec) r3.Vec {
	l := r3.Norm(v)
	if l < 1e-12 {
		return fallback
	}
	return r3.Scale(1/l, v)
}

// addScaled returns a + s*b.
func addScaled(a r3.Vec, s float64, b r3.Vec) r3.Vec {
	return r3.Vec{X: a.X + s*b.X, Y: a.Y + s*b.Y, Z: a.Z + s*b.Z}
}

// growSlice returns s resized to n, reusing its backing array when possible.
func growSlice[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}
