package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 2

// Snapshot holds the particle state of one frame, for rendering or replay.
type Snapshot struct {
	Version int     `json:"version"`
	Frame   int64   `json:"frame"`
	Time    float64 `json:"time"`

	Particles []ParticleState `json:"particles"`
}

// ParticleState holds one particle's externally visible state.
type ParticleState struct {
	ID       uint64  `json:"id"`
	SourceID uint32  `json:"source"`
	Position r3.Vec  `json:"position"`
	Velocity r3.Vec  `json:"velocity"`
	Density  float64 `json:"density"`
	Attached bool    `json:"attached"`

	// Zero when free
	Attachment AttachmentState `json:"attachment,omitzero"`
}

// AttachmentState describes the surface feature an attached particle follows.
// Owner is the scene entity of the collider.
type AttachmentState struct {
	Owner       ecs.Entity `json:"owner"`
	Kind        string     `json:"kind"`
	Bone        int        `json:"bone"`
	Triangle    int        `json:"triangle"`
	LocalOffset r3.Vec     `json:"local_offset"`
	Normal      r3.Vec     `json:"normal"`
}

// Positions returns the particle positions in snapshot order.
func (s *Snapshot) Positions() []r3.Vec {
	out := make([]r3.Vec, len(s.Particles))
	for i := range s.Particles {
		out[i] = s.Particles[i].Position
	}
	return out
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("snapshot_%06d.json", snapshot.Frame))

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}

	return &snapshot, nil
}
