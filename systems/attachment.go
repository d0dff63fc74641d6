package systems

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drip/collider"
	"github.com/pthm-cable/drip/components"
)

// AttachmentTable maps particle IDs to attachment records. The map is guarded
// by a mutex; a record returned by Get may be mutated only by the goroutine
// that owns that particle for the current loop.
type AttachmentTable struct {
	mu      sync.RWMutex
	records map[uint64]*components.Attachment
}

// NewAttachmentTable creates an empty table.
func NewAttachmentTable() *AttachmentTable {
	return &AttachmentTable{records: make(map[uint64]*components.Attachment)}
}

// Get returns the record for a particle.
func (t *AttachmentTable) Get(id uint64) (*components.Attachment, bool) {
	t.mu.RLock()
	a, ok := t.records[id]
	t.mu.RUnlock()
	return a, ok
}

// Set creates or overwrites the record for a particle in place.
func (t *AttachmentTable) Set(id uint64, a components.Attachment) {
	t.mu.Lock()
	if cur, ok := t.records[id]; ok {
		*cur = a
	} else {
		rec := a
		t.records[id] = &rec
	}
	t.mu.Unlock()
}

// Delete removes the record for a particle.
func (t *AttachmentTable) Delete(id uint64) {
	t.mu.Lock()
	delete(t.records, id)
	t.mu.Unlock()
}

// Len returns the number of records.
func (t *AttachmentTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Retain drops every record whose particle ID is not kept.
func (t *AttachmentTable) Retain(keep func(id uint64) bool) {
	t.mu.Lock()
	for id := range t.records {
		if !keep(id) {
			delete(t.records, id)
		}
	}
	t.mu.Unlock()
}

// Attach records an attachment and marks the particle.
func (t *AttachmentTable) Attach(p *components.Particle, a components.Attachment) {
	t.Set(p.ID, a)
	p.Attached = true
}

// Detach releases a particle and blocks re-attachment for the rest of the substep.
func (t *AttachmentTable) Detach(p *components.Particle) {
	t.Delete(p.ID)
	p.Attached = false
	p.JustDetached = true
}

// NewAttachment records the position x of a particle against a surface of entry.
// Mesh surfaces anchor to their triangle, falling back to the bone and then the
// owner pose.
func NewAttachment(entry *ColliderEntry, s collider.Surface, x r3.Vec, now float64) components.Attachment {
	a := components.Attachment{
		Owner:    entry.Owner,
		Kind:     components.AnchorPose,
		Bone:     s.Bone,
		Triangle: s.Triangle,
		Bary:     s.Bary,
		Normal:   s.Normal,
		Point:    s.Point,
		Time:     now,
	}

	fq, features := entry.Shape.(collider.FeatureQuerier)
	if features && s.Bone >= 0 {
		if pose, ok := fq.BonePose(s.Bone); ok {
			a.Kind = components.AnchorBone
			a.LocalOffset = collider.InverseTransformPoint(pose, x)
		}
	}
	if a.Kind == components.AnchorPose {
		a.LocalOffset = collider.InverseTransformPoint(entry.Shape.Pose(), x)
	}
	if features && s.Triangle >= 0 {
		a.Kind = components.AnchorTriangle
		a.Height = r3.Dot(r3.Sub(x, s.Point), s.Normal)
	}
	return a
}

// anchorBone evaluates the bone anchor if the bone still resolves.
func anchorBone(fq collider.FeatureQuerier, a *components.Attachment) (r3.Vec, bool) {
	if a.Bone < 0 {
		return r3.Vec{}, false
	}
	pose, ok := fq.BonePose(a.Bone)
	if !ok {
		return r3.Vec{}, false
	}
	return collider.TransformPoint(pose, a.LocalOffset), true
}

// Anchor returns where the attachment currently places its particle.
func Anchor(entry *ColliderEntry, a *components.Attachment) r3.Vec {
	fq, features := entry.Shape.(collider.FeatureQuerier)
	if features {
		switch a.Kind {
		case components.AnchorTriangle:
			if pt, n, ok := fq.ResolveFeature(a.Triangle, a.Bary); ok {
				return addScaled(pt, a.Height, n)
			}
			if p, ok := anchorBone(fq, a); ok {
				return p
			}
		case components.AnchorBone:
			if p, ok := anchorBone(fq, a); ok {
				return p
			}
		}
	}
	return collider.TransformPoint(entry.Shape.Pose(), a.LocalOffset)
}

// Rerecord refreshes the anchor of an attachment from the finalized position x
// without changing which feature it follows.
func Rerecord(entry *ColliderEntry, a *components.Attachment, x r3.Vec, now float64) {
	a.Time = now
	fq, features := entry.Shape.(collider.FeatureQuerier)
	if features && a.Kind == components.AnchorTriangle {
		if s, ok := fq.ProjectToTriangle(a.Triangle, x); ok {
			a.Bary = s.Bary
			a.Point = s.Point
			a.Normal = s.Normal
			a.Height = s.Distance
		}
		if pose, ok := fq.BonePose(a.Bone); ok && a.Bone >= 0 {
			a.LocalOffset = collider.InverseTransformPoint(pose, x)
		} else {
			a.LocalOffset = collider.InverseTransformPoint(entry.Shape.Pose(), x)
		}
		return
	}
	if features && a.Kind == components.AnchorBone {
		if pose, ok := fq.BonePose(a.Bone); ok {
			a.LocalOffset = collider.InverseTransformPoint(pose, x)
			return
		}
	}
	a.LocalOffset = collider.InverseTransformPoint(entry.Shape.Pose(), x)
}
