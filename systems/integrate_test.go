package systems

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/collider"
	"github.com/pthm-cable/drip/components"
)

const integrateDT = 0.01

var testGravity = r3.Vec{Z: -980}

// constantField is a uniform ForceField.
type constantField r3.Vec

func (c constantField) At(r3.Vec, float64) r3.Vec { return r3.Vec(c) }

// ---------- Free particles ----------

func TestPredict_FreeParticle(t *testing.T) {
	in := &Integrator{Gravity: testGravity, Table: NewAttachmentTable()}
	ps := []components.Particle{{ID: 1, Position: r3.Vec{Z: 10}, Velocity: r3.Vec{X: 5}, JustDetached: true, NearGround: true}}

	in.Predict(ps, nil, r3.Vec{Y: 100}, constantField{X: 10}, integrateDT, 0, nil)

	wantV := r3.Vec{X: 5 + 0.1, Y: 1, Z: -9.8}
	if r3.Norm(r3.Sub(ps[0].Velocity, wantV)) > 1e-9 {
		t.Errorf("velocity = %v, want %v", ps[0].Velocity, wantV)
	}
	wantP := addScaled(r3.Vec{Z: 10}, integrateDT, wantV)
	if r3.Norm(r3.Sub(ps[0].Predicted, wantP)) > 1e-9 {
		t.Errorf("predicted = %v, want %v", ps[0].Predicted, wantP)
	}
	if ps[0].JustDetached || ps[0].NearGround {
		t.Error("per-substep flags not cleared")
	}
	if ps[0].Position != (r3.Vec{Z: 10}) {
		t.Error("predict moved the committed position")
	}
}

func TestFinalize(t *testing.T) {
	in := &Integrator{}
	ps := []components.Particle{{Position: r3.Vec{X: 1}, Predicted: r3.Vec{X: 2, Z: -1}}}
	in.Finalize(ps, integrateDT, nil)
	if ps[0].Position != (r3.Vec{X: 2, Z: -1}) {
		t.Errorf("position = %v", ps[0].Position)
	}
	if r3.Norm(r3.Sub(ps[0].Velocity, r3.Vec{X: 100, Z: -100})) > 1e-9 {
		t.Errorf("velocity = %v", ps[0].Velocity)
	}
}

func TestGuard(t *testing.T) {
	in := &Integrator{}
	ps := []components.Particle{
		{Position: r3.Vec{X: 1}, Predicted: r3.Vec{X: math.NaN()}, Velocity: r3.Vec{Z: 3}, Lambda: -1},
		{Position: r3.Vec{X: math.Inf(1)}, Predicted: r3.Vec{}, Velocity: r3.Vec{}},
		{Position: r3.Vec{Y: 2}, Predicted: r3.Vec{Y: 3}, Velocity: r3.Vec{Y: 1}},
	}
	if n := in.Guard(ps); n != 2 {
		t.Errorf("repaired %d, want 2", n)
	}
	if ps[0].Predicted != (r3.Vec{X: 1}) || ps[0].Velocity != (r3.Vec{}) || ps[0].Lambda != 0 {
		t.Errorf("particle 0 = %+v", ps[0])
	}
	if !finite(ps[1].Position) || ps[1].Predicted != ps[1].Position {
		t.Errorf("particle 1 = %+v", ps[1])
	}
	if ps[2].Predicted != (r3.Vec{Y: 3}) {
		t.Error("finite particle touched")
	}
}

// ---------- Attached particles ----------

func TestPredict_AttachedFollowsOwner(t *testing.T) {
	owners := newOwners(1)
	table := NewAttachmentTable()
	in := &Integrator{Gravity: testGravity, SlideFactor: 0.15, Table: table}

	sphere := &collider.Sphere{Radius: 10}
	entry := shapeEntry(owners[0], sphere, Response{})
	x := r3.Vec{Z: 12.5}
	ps := []components.Particle{{ID: 1, Position: x, Predicted: x}}
	surf, _ := collider.Query(sphere, x, 10)
	table.Attach(&ps[0], NewAttachment(&entry, surf, x, 0))

	// Owner moves 5 units along x
	moved := &collider.Sphere{Center: r3.Vec{X: 5}, Radius: 10}
	frame := NewFrame([]ColliderEntry{shapeEntry(owners[0], moved, Response{})})

	in.Predict(ps, frame, r3.Vec{}, nil, integrateDT, 0, nil)
	want := r3.Vec{X: 5, Z: 12.5}
	if r3.Norm(r3.Sub(ps[0].Predicted, want)) > 1e-9 {
		t.Fatalf("predicted = %v, want %v", ps[0].Predicted, want)
	}
	in.Finalize(ps, integrateDT, nil)

	// Owner holds still: the carried velocity must not move the particle again
	in.Predict(ps, frame, r3.Vec{}, nil, integrateDT, integrateDT, nil)
	if r3.Norm(r3.Sub(ps[0].Predicted, want)) > 1e-9 {
		t.Errorf("second predict = %v, want %v", ps[0].Predicted, want)
	}
	if !ps[0].Attached {
		t.Error("particle released")
	}
}

func TestPredict_AttachedSlidesOnWall(t *testing.T) {
	owners := newOwners(1)
	table := NewAttachmentTable()
	in := &Integrator{Gravity: testGravity, SlideFactor: 0.5, Table: table}

	entry := wallEntry(owners[0])
	x := r3.Vec{X: 3, Z: 20}
	ps := []components.Particle{{ID: 1, Position: x, Predicted: x}}
	surf, _ := collider.Query(entry.Shape, x, 10)
	table.Attach(&ps[0], NewAttachment(&entry, surf, x, 0))

	frame := NewFrame([]ColliderEntry{entry})
	in.Predict(ps, frame, r3.Vec{}, nil, integrateDT, 0, nil)

	// Half of gravity along the wall
	wantV := r3.Vec{Z: -490 * integrateDT}
	if r3.Norm(r3.Sub(ps[0].Velocity, wantV)) > 1e-9 {
		t.Errorf("velocity = %v, want %v", ps[0].Velocity, wantV)
	}
	if math.Abs(ps[0].Predicted.X-3) > 1e-9 {
		t.Errorf("slide left the wall plane: %v", ps[0].Predicted)
	}
}

func TestPredict_LostOwnerReleases(t *testing.T) {
	owners := newOwners(2)
	table := NewAttachmentTable()
	in := &Integrator{Gravity: testGravity, Table: table}

	entry := floorEntry(owners[0])
	x := r3.Vec{Z: 3}
	ps := []components.Particle{{ID: 1, Position: x, Predicted: x}}
	surf, _ := collider.Query(entry.Shape, x, 10)
	table.Attach(&ps[0], NewAttachment(&entry, surf, x, 0))

	frame := NewFrame([]ColliderEntry{floorEntry(owners[1])})
	stats := in.Predict(ps, frame, r3.Vec{}, nil, integrateDT, 0, nil)

	if stats.Released != 1 || ps[0].Attached || !ps[0].JustDetached || table.Len() != 0 {
		t.Errorf("stats=%+v attached=%v justDetached=%v records=%d",
			stats, ps[0].Attached, ps[0].JustDetached, table.Len())
	}
	if ps[0].Velocity.Z >= 0 {
		t.Errorf("released particle did not fall: %v", ps[0].Velocity)
	}
}

func TestPredict_ParallelMatchesSerial(t *testing.T) {
	in := &Integrator{Gravity: testGravity, Table: NewAttachmentTable()}
	a := randomParticles(300, 50, 4)
	b := randomParticles(300, 50, 4)
	field := NewTurbulence(2, 15, 100, 1)

	in.Predict(a, nil, r3.Vec{}, field, integrateDT, 0.5, nil)
	in.Predict(b, nil, r3.Vec{}, field, integrateDT, 0.5, NewPool(4, 16))
	for i := range a {
		if a[i].Predicted != b[i].Predicted {
			t.Fatalf("particle %d: serial %v, parallel %v", i, a[i].Predicted, b[i].Predicted)
		}
	}
}
