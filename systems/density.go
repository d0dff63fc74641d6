package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/components"
	"github.com/pthm-cable/drip/config"
)

// Tensile configures the artificial pressure term that counters clustering at
// free surfaces.
type Tensile struct {
	Enabled bool
	K       float64
	N       float64
	DeltaQ  float64 // fraction of h
}

// DensitySolver projects the XPBD density constraint C_i = rho_i/rho_0 - 1
// onto predicted positions.
type DensitySolver struct {
	Kernels        Kernels
	RestDensity    float64
	Compliance     float64
	MinDenominator float64
	Relaxation     float64
	Tensile        Tensile

	wDeltaQ     float64
	deltaLambda []float64
	deltaP      []r3.Vec
}

// NewDensitySolver builds a solver from the configuration.
func NewDensitySolver(cfg *config.Config, k Kernels) *DensitySolver {
	s := &DensitySolver{
		Kernels:        k,
		RestDensity:    cfg.Fluid.RestDensity,
		Compliance:     cfg.Fluid.Compliance,
		MinDenominator: cfg.Solver.MinDenominator,
		Relaxation:     cfg.Solver.Relaxation,
		Tensile: Tensile{
			Enabled: cfg.Solver.TensileEnabled,
			K:       cfg.Solver.TensileK,
			N:       cfg.Solver.TensileN,
			DeltaQ:  cfg.Solver.TensileDeltaQ,
		},
	}
	s.SetTensile(s.Tensile)
	return s
}

// SetTensile replaces the tensile correction settings.
func (s *DensitySolver) SetTensile(t Tensile) {
	s.Tensile = t
	dq := t.DeltaQ * s.Kernels.H
	s.wDeltaQ = s.Kernels.Poly6(dq * dq)
}

// ResetLambda zeroes the accumulated multipliers; called once per substep.
func (s *DensitySolver) ResetLambda(particles []components.Particle) {
	for i := range particles {
		particles[i].Lambda = 0
	}
}

// density sums the poly6 contributions of the neighbours and the particle itself.
func (s *DensitySolver) density(particles []components.Particle, i int) float64 {
	p := &particles[i]
	k := &s.Kernels
	rho := p.Mass * k.Poly6(0)
	for _, j := range p.Neighbors {
		q := &particles[j]
		d := k.ToMetres(r3.Sub(p.Predicted, q.Predicted))
		rho += q.Mass * k.Poly6(r3.Norm2(d))
	}
	return rho
}

// ComputeDensities refreshes Density for every particle from predicted positions.
func (s *DensitySolver) ComputeDensities(particles []components.Particle, pool *Pool) {
	pool.For(len(particles), func(start, end int) {
		for i := start; i < end; i++ {
			particles[i].Density = s.density(particles, i)
		}
	})
}

// Solve runs the given number of sequential iterations.
func (s *DensitySolver) Solve(particles []components.Particle, dt float64, iterations int, pool *Pool) {
	for it := 0; it < iterations; it++ {
		s.Iterate(particles, dt, pool)
	}
}

// Iterate performs one projection: multipliers, then position deltas into a
// private buffer, then the deltas are applied to predicted positions.
func (s *DensitySolver) Iterate(particles []components.Particle, dt float64, pool *Pool) {
	n := len(particles)
	if n == 0 {
		return
	}
	s.deltaLambda = growSlice(s.deltaLambda, n)
	s.deltaP = growSlice(s.deltaP, n)

	alpha := s.Compliance / (dt * dt)
	rho0 := s.RestDensity
	k := &s.Kernels

	// Phase 1: density and multiplier update (writes own slot only)
	pool.For(n, func(start, end int) {
		for i := start; i < end; i++ {
			p := &particles[i]
			p.Density = s.density(particles, i)
			c := p.Density/rho0 - 1
			if c < 0 {
				s.deltaLambda[i] = 0
				continue
			}

			var gradI r3.Vec
			sumSq := 0.0
			for _, j := range p.Neighbors {
				q := &particles[j]
				g := r3.Scale(q.Mass/rho0, k.SpikyGradient(k.ToMetres(r3.Sub(p.Predicted, q.Predicted))))
				gradI = r3.Add(gradI, g)
				sumSq += r3.Norm2(g)
			}
			// Relaxation damps the Jacobi overshoot where neighbours move together
			denom := r3.Norm2(gradI) + sumSq + alpha + s.Relaxation
			if denom < s.MinDenominator {
				denom = s.MinDenominator
			}
			dl := (-c - alpha*p.Lambda) / denom
			if math.IsNaN(dl) || math.IsInf(dl, 0) {
				dl = 0
			}
			s.deltaLambda[i] = dl
			p.Lambda += dl
		}
	})

	// Phase 2: position deltas from this iteration's multiplier updates
	pool.For(n, func(start, end int) {
		for i := start; i < end; i++ {
			p := &particles[i]
			var dp r3.Vec
			for _, j := range p.Neighbors {
				q := &particles[j]
				d := k.ToMetres(r3.Sub(p.Predicted, q.Predicted))
				w := s.deltaLambda[i] + s.deltaLambda[j] + s.scorr(d)
				if w == 0 {
					continue
				}
				dp = addScaled(dp, q.Mass*w, k.SpikyGradient(d))
			}
			// SpikyGradient is the negated kernel gradient
			s.deltaP[i] = r3.Scale(-1/(rho0*k.Scale), dp)
		}
	})

	// Phase 3: apply
	pool.For(n, func(start, end int) {
		for i := start; i < end; i++ {
			if finite(s.deltaP[i]) {
				particles[i].Predicted = r3.Add(particles[i].Predicted, s.deltaP[i])
			}
		}
	})
}

// scorr is the artificial pressure term for an offset in metres.
func (s *DensitySolver) scorr(d r3.Vec) float64 {
	if !s.Tensile.Enabled || s.wDeltaQ <= 0 {
		return 0
	}
	ratio := s.Kernels.Poly6(r3.Norm2(d)) / s.wDeltaQ
	return -s.Tensile.K * math.Pow(ratio, s.Tensile.N)
}

// MeanDensity returns the average density of the particles, 0 when empty.
func MeanDensity(particles []components.Particle) float64 {
	if len(particles) == 0 {
		return 0
	}
	sum := 0.0
	for i := range particles {
		sum += particles[i].Density
	}
	return sum / float64(len(particles))
}
