package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointLoadAbsent(t *testing.T) {
	cp := NewCheckpoint(filepath.Join(t.TempDir(), "missing.offset"))
	if off := cp.Load(); off != 0 {
		t.Errorf("expected 0 for absent checkpoint, got %d", off)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	cp := NewCheckpoint(filepath.Join(t.TempDir(), "ingestion.offset"))
	if err := cp.Save(12345); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if off := cp.Load(); off != 12345 {
		t.Errorf("expected 12345, got %d", off)
	}
	if err := cp.Save(0); err != nil {
		t.Fatalf("Save(0): %v", err)
	}
	if off := cp.Load(); off != 0 {
		t.Errorf("expected 0, got %d", off)
	}
}

func TestCheckpointLoadGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingestion.offset")
	for _, content := range []string{"not a number", "-42", ""} {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		cp := NewCheckpoint(path)
		if off := cp.Load(); off != 0 {
			t.Errorf("content %q: expected 0, got %d", content, off)
		}
	}
}
