package systems

import (
	"math"
	"testing"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/collider"
	"github.com/pthm-cable/drip/components"
)

// newOwners creates n live entities to stand in for collider owners.
func newOwners(n int) []ecs.Entity {
	world := ecs.NewWorld()
	refs := ecs.NewMap1[components.ColliderRef](world)
	out := make([]ecs.Entity, n)
	for i := range out {
		out[i] = refs.NewEntity(&components.ColliderRef{Channel: 1})
	}
	return out
}

// shapeEntry wraps a collider in a frame entry on channel 1.
func shapeEntry(owner ecs.Entity, shape collider.Collider, resp Response) ColliderEntry {
	return ColliderEntry{
		Owner:    owner,
		Shape:    shape,
		Channel:  1,
		Bounds:   shape.Bounds(),
		Response: resp,
	}
}

func newTestCollisionSolver() *CollisionSolver {
	return &CollisionSolver{
		Radius:            0,
		Channel:           1,
		MaxCorrection:     5,
		MinBounceVelocity: 50,
		NearGroundCos:     0.7,
		Up:                r3.Vec{Z: 1},
	}
}

// ---------- Sphere response ----------

func TestCollision_SphereResponse(t *testing.T) {
	owners := newOwners(1)
	sphere := &collider.Sphere{Radius: 10}
	const dt = 0.01

	tests := []struct {
		name      string
		resp      Response
		pos, pred r3.Vec
		wantPred  r3.Vec
		wantVel   r3.Vec // after finalize
		wantHit   bool
	}{
		{
			name:     "fast impact bounces",
			resp:     Response{Restitution: 0.5, Buffer: 0.1},
			pos:      r3.Vec{Z: 12},
			pred:     r3.Vec{Z: 9},
			wantPred: r3.Vec{Z: 10.1},
			wantVel:  r3.Vec{Z: 150},
			wantHit:  true,
		},
		{
			name:     "slow approach comes to rest",
			resp:     Response{Restitution: 0.5, Buffer: 0.1},
			pos:      r3.Vec{Z: 9.3},
			pred:     r3.Vec{Z: 9},
			wantPred: r3.Vec{Z: 10.1},
			wantVel:  r3.Vec{},
			wantHit:  true,
		},
		{
			name:     "full friction removes tangential velocity",
			resp:     Response{Friction: 1, Buffer: 0.1},
			pos:      r3.Vec{X: -1, Z: 12},
			pred:     r3.Vec{Z: 9},
			wantPred: r3.Vec{Z: 10.1},
			wantVel:  r3.Vec{},
			wantHit:  true,
		},
		{
			name:     "frictionless keeps tangential velocity",
			resp:     Response{Buffer: 0.1},
			pos:      r3.Vec{X: -1, Z: 12},
			pred:     r3.Vec{Z: 9},
			wantPred: r3.Vec{Z: 10.1},
			wantVel:  r3.Vec{X: 100},
			wantHit:  true,
		},
		{
			name:     "margin pushes before contact",
			resp:     Response{Margin: 1},
			pos:      r3.Vec{Z: 10.5},
			pred:     r3.Vec{Z: 10.5},
			wantPred: r3.Vec{Z: 11},
			wantVel:  r3.Vec{},
			wantHit:  false,
		},
		{
			name:     "correction is clamped",
			resp:     Response{Buffer: 0.1},
			pos:      r3.Vec{Z: 0.5},
			pred:     r3.Vec{Z: 0.5},
			wantPred: r3.Vec{Z: 5.5},
			wantVel:  r3.Vec{},
			wantHit:  false,
		},
		{
			name:     "outside untouched",
			resp:     Response{Buffer: 0.1},
			pos:      r3.Vec{Z: 14},
			pred:     r3.Vec{Z: 11},
			wantPred: r3.Vec{Z: 11},
			wantVel:  r3.Vec{Z: -300},
			wantHit:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestCollisionSolver()
			frame := NewFrame([]ColliderEntry{shapeEntry(owners[0], sphere, tt.resp)})
			ps := []components.Particle{{ID: 1, Position: tt.pos, Predicted: tt.pred}}
			s.Reset(len(ps))
			s.Resolve(ps, frame, dt, nil)

			if r3.Norm(r3.Sub(ps[0].Predicted, tt.wantPred)) > 1e-9 {
				t.Errorf("predicted = %v, want %v", ps[0].Predicted, tt.wantPred)
			}
			(&Integrator{}).Finalize(ps, dt, nil)
			if r3.Norm(r3.Sub(ps[0].Velocity, tt.wantVel)) > 1e-6 {
				t.Errorf("velocity = %v, want %v", ps[0].Velocity, tt.wantVel)
			}
			if got := s.Impacts()[0].Valid; got != tt.wantHit {
				t.Errorf("impact recorded = %v, want %v", got, tt.wantHit)
			}
		})
	}
}

func TestCollision_ImpactAndGroundFlags(t *testing.T) {
	owners := newOwners(1)
	s := newTestCollisionSolver()
	frame := NewFrame([]ColliderEntry{shapeEntry(owners[0], &collider.Sphere{Radius: 10}, Response{})})
	ps := []components.Particle{
		{ID: 1, Position: r3.Vec{Z: 12}, Predicted: r3.Vec{Z: 9}},  // top: ground
		{ID: 2, Position: r3.Vec{X: 12}, Predicted: r3.Vec{X: 9}},  // side: wall
		{ID: 3, Position: r3.Vec{Z: 40}, Predicted: r3.Vec{Z: 39}}, // clear
	}
	s.Reset(len(ps))
	s.Resolve(ps, frame, 0.01, nil)

	if !ps[0].NearGround || ps[1].NearGround || ps[2].NearGround {
		t.Errorf("near ground = %v %v %v, want true false false", ps[0].NearGround, ps[1].NearGround, ps[2].NearGround)
	}
	imp := s.Impacts()[0]
	if !imp.Valid || imp.Owner != owners[0] || math.Abs(imp.Speed-300) > 1e-9 {
		t.Errorf("impact = %+v", imp)
	}
	if r3.Norm(r3.Sub(imp.Point, r3.Vec{Z: 10})) > 1e-9 {
		t.Errorf("impact point = %v", imp.Point)
	}
	if s.Contacts() != 2 {
		t.Errorf("contacts = %d, want 2", s.Contacts())
	}
}

func TestCollision_SkipsFilteredEntries(t *testing.T) {
	owners := newOwners(2)
	s := newTestCollisionSolver()

	other := shapeEntry(owners[0], &collider.Sphere{Radius: 10}, Response{})
	other.Channel = 2
	poly := shapeEntry(owners[1], &collider.Sphere{Radius: 10}, Response{})
	poly.PerPolygon = true
	frame := NewFrame([]ColliderEntry{other, poly})

	ps := []components.Particle{{ID: 1, Position: r3.Vec{Z: 5}, Predicted: r3.Vec{Z: 5}}}
	s.Reset(1)
	s.Resolve(ps, frame, 0.01, nil)
	if ps[0].Predicted != (r3.Vec{Z: 5}) {
		t.Errorf("filtered entries moved particle to %v", ps[0].Predicted)
	}
}

func TestCollision_BoxFloorManyParticles(t *testing.T) {
	owners := newOwners(1)
	s := newTestCollisionSolver()
	s.Radius = 2.5
	floor := collider.NewBox(r3.Vec{Z: -5}, r3.Vec{X: 100, Y: 100, Z: 5}, collider.Material{})
	frame := NewFrame([]ColliderEntry{shapeEntry(owners[0], floor, Response{Buffer: 0.1})})

	ps := randomParticles(500, 40, 9)
	start := make([]float64, len(ps))
	for i := range ps {
		ps[i].Predicted.Z -= 20
		start[i] = ps[i].Predicted.Z
	}
	s.Reset(len(ps))
	s.Resolve(ps, frame, 0.01, NewPool(4, 32))
	for i := range ps {
		z := ps[i].Predicted.Z
		switch {
		case start[i] >= 2.5:
			if z != start[i] {
				t.Fatalf("particle %d above reach moved from %v to %v", i, start[i], z)
			}
		case start[i] >= -2.4:
			// Within MaxCorrection: lands at radius + buffer
			if math.Abs(z-2.6) > 1e-9 {
				t.Fatalf("particle %d from %v left at z=%v", i, start[i], z)
			}
		}
	}
}

// ---------- Frame lookup ----------

func TestFrame_Lookup(t *testing.T) {
	owners := newOwners(3)
	frame := NewFrame([]ColliderEntry{
		shapeEntry(owners[0], &collider.Sphere{Radius: 1}, Response{}),
		shapeEntry(owners[1], &collider.Sphere{Radius: 2}, Response{}),
	})
	if e, ok := frame.Lookup(owners[1]); !ok || e.Shape.(*collider.Sphere).Radius != 2 {
		t.Errorf("lookup of second owner failed")
	}
	if _, ok := frame.Lookup(owners[2]); ok {
		t.Error("absent owner resolved")
	}
	var nilFrame *Frame
	if _, ok := nilFrame.Lookup(owners[0]); ok {
		t.Error("nil frame resolved an owner")
	}
}
