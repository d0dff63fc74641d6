package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestSnapshotSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	world := ecs.NewWorld()
	world.NewEntity()
	owner := world.NewEntity()

	snapshot := &Snapshot{
		Version: SnapshotVersion,
		Frame:   120,
		Time:    2,
		Particles: []ParticleState{
			{ID: 1, SourceID: 3, Position: r3.Vec{X: 1, Y: 2, Z: 3}, Velocity: r3.Vec{Z: -50}, Density: 1002.5},
			{ID: 7, SourceID: 3, Position: r3.Vec{Z: 0.5}, Density: 998, Attached: true, Attachment: AttachmentState{
				Owner:       owner,
				Kind:        "triangle",
				Bone:        1,
				Triangle:    12,
				LocalOffset: r3.Vec{X: 0.5, Z: 2},
				Normal:      r3.Vec{Z: 1},
			}},
		},
	}

	path, err := SaveSnapshot(snapshot, tmpDir)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if filepath.Base(path) != "snapshot_000120.json" {
		t.Errorf("path = %s", path)
	}

	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if loaded.Frame != 120 || loaded.Time != 2 || len(loaded.Particles) != 2 {
		t.Fatalf("loaded = %+v", loaded)
	}
	for i := range snapshot.Particles {
		if loaded.Particles[i] != snapshot.Particles[i] {
			t.Errorf("particle %d = %+v, want %+v", i, loaded.Particles[i], snapshot.Particles[i])
		}
	}
	if pos := loaded.Positions(); pos[0] != (r3.Vec{X: 1, Y: 2, Z: 3}) {
		t.Errorf("Positions()[0] = %v", pos[0])
	}
	if loaded.Particles[1].Attachment.Owner != owner {
		t.Errorf("owner = %v, want %v", loaded.Particles[1].Attachment.Owner, owner)
	}

	// Free particles carry no attachment block
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), `"attachment"`); n != 1 {
		t.Errorf("attachment blocks = %d, want 1", n)
	}
}

func TestLoadSnapshot_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadSnapshot(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshot(bad); err == nil {
		t.Error("expected error for malformed JSON")
	}

	old := filepath.Join(dir, "old.json")
	if err := os.WriteFile(old, []byte(`{"version": 99}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshot(old); err == nil || !strings.Contains(err.Error(), "version") {
		t.Errorf("expected version error, got %v", err)
	}
}
