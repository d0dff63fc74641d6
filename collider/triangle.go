package collider

import "gonum.org/v1/gonum/spatial/r3"

// ClosestPointOnTriangle returns the point of triangle abc closest to p and its
// barycentric coordinates (weights of a, b, c).
// Ericson, Real-Time Collision Detection, 5.1.5.
func ClosestPointOnTriangle(p, a, b, c r3.Vec) (r3.Vec, [3]float64) {
	ab := r3.Sub(b, a)
	ac := r3.Sub(c, a)
	ap := r3.Sub(p, a)

	d1 := r3.Dot(ab, ap)
	d2 := r3.Dot(ac, ap)
	if d1 <= 0 && d2 <= 0 {
		return a, [3]float64{1, 0, 0}
	}

	bp := r3.Sub(p, b)
	d3 := r3.Dot(ab, bp)
	d4 := r3.Dot(ac, bp)
	if d3 >= 0 && d4 <= d3 {
		return b, [3]float64{0, 1, 0}
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		v := d1 / (d1 - d3)
		return r3.Add(a, r3.Scale(v, ab)), [3]float64{1 - v, v, 0}
	}

	cp := r3.Sub(p, c)
	d5 := r3.Dot(ab, cp)
	d6 := r3.Dot(ac, cp)
	if d6 >= 0 && d5 <= d6 {
		return c, [3]float64{0, 0, 1}
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		w := d2 / (d2 - d6)
		return r3.Add(a, r3.Scale(w, ac)), [3]float64{1 - w, 0, w}
	}

	va := d3*d6 - d5*d4
	if va <= 0 && (d4-d3) >= 0 && (d5-d6) >= 0 {
		w := (d4 - d3) / ((d4 - d3) + (d5 - d6))
		return r3.Add(b, r3.Scale(w, r3.Sub(c, b))), [3]float64{0, 1 - w, w}
	}

	denom := va + vb + vc
	if denom == 0 {
		// Degenerate (zero-area) triangle that slipped past the edge tests
		return a, [3]float64{1, 0, 0}
	}
	denom = 1 / denom
	v := vb * denom
	w := vc * denom
	return r3.Add(a, r3.Add(r3.Scale(v, ab), r3.Scale(w, ac))), [3]float64{1 - v - w, v, w}
}

// TriangleNormal returns the unit face normal (counter-clockwise winding).
// Degenerate triangles return the zero vector.
func TriangleNormal(a, b, c r3.Vec) r3.Vec {
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	return unitOr(n, r3.Vec{})
}

// Barycentric evaluates a barycentric point on triangle abc.
func Barycentric(a, b, c r3.Vec, w [3]float64) r3.Vec {
	return r3.Add(r3.Scale(w[0], a), r3.Add(r3.Scale(w[1], b), r3.Scale(w[2], c)))
}
