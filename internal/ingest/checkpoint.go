package ingest

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Checkpoint persists the byte offset up to which durable-log records have
// been handed off to the queue. It deliberately does NOT track persistence:
// on restart everything past the checkpoint is re-enqueued and the store's
// idempotent upsert absorbs the duplicates. That keeps replay a pure file
// tail with no store round-trips.
type Checkpoint struct {
	path string
}

// NewCheckpoint wraps the offset file at path.
func NewCheckpoint(path string) *Checkpoint {
	return &Checkpoint{path: path}
}

// Load returns the stored offset, or 0 if the file is absent or
// unparseable. Replay is idempotent, so starting over is always safe.
func (c *Checkpoint) Load() int64 {
	b, err := os.ReadFile(c.path)
	if err != nil {
		return 0
	}
	off, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil || off < 0 {
		return 0
	}
	return off
}

// Save atomically writes the offset (temp file + rename).
func (c *Checkpoint) Save(offset int64) error {
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(offset, 10)), 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
