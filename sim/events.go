package sim

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/drip/telemetry"
)

// CollisionEvent is an impact reported to the host, with the collider that was
// hit.
type CollisionEvent struct {
	telemetry.CollisionEvent
	Owner ecs.Entity
}

// tickCooldowns counts down the per-particle event cooldowns by one frame.
func (s *Simulation) tickCooldowns(dt float64) {
	for i := range s.particles {
		p := &s.particles[i]
		if p.EventCooldown > 0 {
			p.EventCooldown = max(p.EventCooldown-dt, 0)
		}
	}
}

// collectEvents turns this substep's impacts into events. An impact fires when
// its normal speed reaches the threshold and the particle is off cooldown;
// at most Events.MaxPerFrame fire per frame (0 = no limit).
func (s *Simulation) collectEvents(now float64) {
	cfg := &s.cfg.Events
	if !cfg.Enabled {
		return
	}
	impacts := s.collision.Impacts()
	for i := range impacts {
		if cfg.MaxPerFrame > 0 && len(s.events) >= cfg.MaxPerFrame {
			return
		}
		im := &impacts[i]
		if !im.Valid || im.Speed < cfg.VelocityThreshold {
			continue
		}
		p := &s.particles[i]
		if p.EventCooldown > 0 {
			continue
		}
		p.EventCooldown = cfg.ParticleCooldown
		s.events = append(s.events, CollisionEvent{
			CollisionEvent: telemetry.NewCollisionEvent(s.frame, now, p.ID, p.SourceID, im.Speed, im.Point, im.Normal),
			Owner:          im.Owner,
		})
		s.last.events++
	}
}

// TelemetryEvents returns the last frame's events in their CSV form.
func (s *Simulation) TelemetryEvents() []telemetry.CollisionEvent {
	out := make([]telemetry.CollisionEvent, len(s.events))
	for i := range s.events {
		out[i] = s.events[i].CollisionEvent
	}
	return out
}
