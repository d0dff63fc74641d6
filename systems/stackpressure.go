package systems

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/components"
	"github.com/pthm-cable/drip/config"
)

// anchorView is the part of an attachment the stack pass reads.
type anchorView struct {
	owner  ecs.Entity
	normal r3.Vec
	ok     bool
}

// StackPressureSolver transfers weight down a stack of particles attached to
// the same surface so the lower ones slide (drip) sooner.
type StackPressureSolver struct {
	Kernels       Kernels
	Gravity       r3.Vec
	Scale         float64
	MinTangential float64
	Table         *AttachmentTable

	views []anchorView
	delta []r3.Vec
}

// NewStackPressureSolver builds a solver from the configuration.
func NewStackPressureSolver(cfg *config.Config, k Kernels, table *AttachmentTable) *StackPressureSolver {
	return &StackPressureSolver{
		Kernels:       k,
		Gravity:       cfg.Fluid.GravityVec(),
		Scale:         cfg.StackPressure.Scale,
		MinTangential: cfg.StackPressure.MinTangential,
		Table:         table,
	}
}

// Apply adds dt * sum_j k m_j W_ij / rho_i * g_t to each attached particle,
// summed over attached neighbours of the same owner that lie up-slope.
func (s *StackPressureSolver) Apply(particles []components.Particle, dt float64, pool *Pool) {
	n := len(particles)
	if n == 0 || s.Scale == 0 {
		return
	}
	s.views = growSlice(s.views, n)
	s.delta = growSlice(s.delta, n)

	pool.For(n, func(start, end int) {
		for i := start; i < end; i++ {
			s.views[i] = anchorView{}
			if !particles[i].Attached {
				continue
			}
			if rec, ok := s.Table.Get(particles[i].ID); ok {
				s.views[i] = anchorView{owner: rec.Owner, normal: rec.Normal, ok: true}
			}
		}
	})

	k := &s.Kernels
	pool.For(n, func(start, end int) {
		for i := start; i < end; i++ {
			s.delta[i] = r3.Vec{}
			v := &s.views[i]
			p := &particles[i]
			if !v.ok || p.Density <= 0 {
				continue
			}
			gt := tangential(s.Gravity, unitOr(v.normal, r3.Vec{Z: 1}))
			gtLen := r3.Norm(gt)
			if gtLen < s.MinTangential || gtLen == 0 {
				continue
			}
			slide := r3.Scale(1/gtLen, gt)

			weight := 0.0
			for _, j := range p.Neighbors {
				w := &s.views[j]
				if !w.ok || w.owner != v.owner {
					continue
				}
				q := &particles[j]
				d := r3.Sub(q.Predicted, p.Predicted)
				// Up-slope neighbours sit against the slide direction
				if r3.Dot(d, slide) >= 0 {
					continue
				}
				weight += q.Mass * k.Poly6World(d)
			}
			if weight == 0 {
				continue
			}
			s.delta[i] = r3.Scale(dt*s.Scale*weight/p.Density, gt)
		}
	})

	pool.For(n, func(start, end int) {
		for i := start; i < end; i++ {
			particles[i].Velocity = r3.Add(particles[i].Velocity, s.delta[i])
		}
	})
}
