package systems

import (
	"math"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/components"
	"github.com/pthm-cable/drip/config"
)

// Impact is the strongest contact of a particle during one collision pass.
type Impact struct {
	Owner  ecs.Entity
	Point  r3.Vec
	Normal r3.Vec
	Speed  float64 // normal approach speed, world units / s
	Valid  bool
}

// CollisionSolver resolves particles against signed-distance colliders. It
// writes positions only: the outgoing velocity is encoded by back-solving the
// current position so finalize reproduces it.
type CollisionSolver struct {
	Radius            float64
	Channel           uint32
	MaxCorrection     float64
	MinBounceVelocity float64
	NearGroundCos     float64
	Up                r3.Vec // opposite to gravity

	impacts  []Impact
	contacts []int32
}

// NewCollisionSolver builds a solver from the configuration.
func NewCollisionSolver(cfg *config.Config) *CollisionSolver {
	return &CollisionSolver{
		Radius:            cfg.Fluid.ParticleRadius,
		Channel:           cfg.Fluid.CollisionChannel,
		MaxCorrection:     cfg.Collision.MaxCorrection,
		MinBounceVelocity: cfg.Collision.MinBounceVelocity,
		NearGroundCos:     cfg.Collision.NearGroundCos,
		Up:                unitOr(r3.Scale(-1, cfg.Fluid.GravityVec()), r3.Vec{Z: 1}),
	}
}

// Impacts returns the per-particle impact slots of the last Reset.
func (s *CollisionSolver) Impacts() []Impact { return s.impacts }

// Contacts returns the number of particles that touched a collider since Reset.
func (s *CollisionSolver) Contacts() int {
	n := 0
	for _, c := range s.contacts {
		n += int(c)
	}
	return n
}

// Reset sizes and clears the per-particle slots; called before each substep's
// collision passes.
func (s *CollisionSolver) Reset(n int) {
	s.impacts = growSlice(s.impacts, n)
	s.contacts = growSlice(s.contacts, n)
	for i := range s.impacts {
		s.impacts[i] = Impact{}
		s.contacts[i] = 0
	}
}

// contact is a resolved push-out for one particle against one surface.
type contact struct {
	owner       ecs.Entity
	distance    float64 // signed distance of the predicted position
	point       r3.Vec
	normal      r3.Vec
	response    Response
	maxPush     float64
	bounceSpeed float64
	radius      float64
}

// resolveContact applies one contact to particle i and returns the pushed
// distance (0 when there was no penetration).
func (s *CollisionSolver) resolveContact(p *components.Particle, i int, c contact, dt float64) float64 {
	reach := c.radius + c.response.Margin
	if math.IsNaN(c.distance) || c.distance >= reach {
		return 0
	}
	push := math.Min(reach-c.distance+c.response.Buffer, c.maxPush)
	if push <= 0 {
		return 0
	}

	v := r3.Scale(1/dt, r3.Sub(p.Predicted, p.Position))
	p.Predicted = addScaled(p.Predicted, push, c.normal)

	vn, vt := splitNormal(v, c.normal)
	out := vt
	if vn < 0 && -vn >= c.bounceSpeed {
		out = addScaled(r3.Scale(1-clamp01(c.response.Friction), vt), -c.response.Restitution*vn, c.normal)
	}
	p.Position = addScaled(p.Predicted, -dt, out)

	if r3.Dot(c.normal, s.Up) > s.NearGroundCos {
		p.NearGround = true
	}
	s.contacts[i] = 1
	if vn < 0 && -vn > s.impacts[i].Speed {
		s.impacts[i] = Impact{Owner: c.owner, Point: c.point, Normal: c.normal, Speed: -vn, Valid: true}
	}
	return push
}

// Resolve pushes every particle out of the SDF colliders in the frame.
// Per-polygon entries are left to the PerPolygonProcessor.
func (s *CollisionSolver) Resolve(particles []components.Particle, frame *Frame, dt float64, pool *Pool) {
	if frame == nil || len(frame.Entries) == 0 || len(particles) == 0 {
		return
	}
	if len(s.impacts) != len(particles) {
		s.Reset(len(particles))
	}

	pool.For(len(particles), func(start, end int) {
		for i := start; i < end; i++ {
			p := &particles[i]
			for e := range frame.Entries {
				entry := &frame.Entries[e]
				if entry.PerPolygon || !entry.Matches(s.Channel) {
					continue
				}
				reach := s.Radius + entry.Response.Margin
				if !nearBox(entry.Bounds, p.Predicted, reach) {
					continue
				}
				d, n := entry.Shape.SignedDistance(p.Predicted)
				s.resolveContact(p, i, contact{
					owner:       entry.Owner,
					distance:    d,
					point:       addScaled(p.Predicted, -d, n),
					normal:      n,
					response:    entry.Response,
					maxPush:     s.MaxCorrection,
					bounceSpeed: s.MinBounceVelocity,
					radius:      s.Radius,
				}, dt)
			}
		}
	})
}
