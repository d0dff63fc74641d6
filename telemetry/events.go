// Package telemetry provides solver diagnostics: phase timings, per-frame
// statistics, collision event records, particle snapshots and CSV output.
package telemetry

import "gonum.org/v1/gonum/spatial/r3"

// CollisionEvent is a particle impact reported to the host. Impacts are
// rate-limited per particle and per frame before they become events.
type CollisionEvent struct {
	Frame      int64   `csv:"frame" json:"frame"`
	Time       float64 `csv:"time" json:"time"`
	ParticleID uint64  `csv:"particle" json:"particle"`
	SourceID   uint32  `csv:"source" json:"source"`
	Speed      float64 `csv:"speed" json:"speed"` // normal approach speed, world units / s

	X  float64 `csv:"x" json:"x"`
	Y  float64 `csv:"y" json:"y"`
	Z  float64 `csv:"z" json:"z"`
	NX float64 `csv:"nx" json:"nx"`
	NY float64 `csv:"ny" json:"ny"`
	NZ float64 `csv:"nz" json:"nz"`
}

// NewCollisionEvent builds an event from a contact point and normal.
func NewCollisionEvent(frame int64, now float64, particle uint64, source uint32, speed float64, point, normal r3.Vec) CollisionEvent {
	return CollisionEvent{
		Frame:      frame,
		Time:       now,
		ParticleID: particle,
		SourceID:   source,
		Speed:      speed,
		X:          point.X,
		Y:          point.Y,
		Z:          point.Z,
		NX:         normal.X,
		NY:         normal.Y,
		NZ:         normal.Z,
	}
}

// Point returns the contact point.
func (e CollisionEvent) Point() r3.Vec { return r3.Vec{X: e.X, Y: e.Y, Z: e.Z} }

// Normal returns the contact normal.
func (e CollisionEvent) Normal() r3.Vec { return r3.Vec{X: e.NX, Y: e.NY, Z: e.NZ} }
