package systems

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/components"
)

// ViscositySolver applies XSPH velocity smoothing:
//
//	v_i += c * sum_j (v_j - v_i) W_ij / sum_j W_ij
type ViscositySolver struct {
	Kernels Kernels
	C       float64

	next []r3.Vec
}

// NewViscositySolver creates a solver with coefficient c in [0, 1].
func NewViscositySolver(k Kernels, c float64) *ViscositySolver {
	return &ViscositySolver{Kernels: k, C: clamp01(c)}
}

// Apply reads every velocity before writing any of them.
func (s *ViscositySolver) Apply(particles []components.Particle, pool *Pool) {
	n := len(particles)
	if n == 0 || s.C == 0 {
		return
	}
	s.next = growSlice(s.next, n)
	k := &s.Kernels

	pool.For(n, func(start, end int) {
		for i := start; i < end; i++ {
			p := &particles[i]
			var sum r3.Vec
			wsum := 0.0
			for _, j := range p.Neighbors {
				q := &particles[j]
				w := k.Poly6World(r3.Sub(p.Predicted, q.Predicted))
				if w == 0 {
					continue
				}
				sum = addScaled(sum, w, r3.Sub(q.Velocity, p.Velocity))
				wsum += w
			}
			if wsum == 0 {
				s.next[i] = p.Velocity
				continue
			}
			s.next[i] = addScaled(p.Velocity, s.C/wsum, sum)
		}
	})

	pool.For(n, func(start, end int) {
		for i := start; i < end; i++ {
			particles[i].Velocity = s.next[i]
		}
	})
}
