package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/erauner12/wa-gateway/internal/model"
)

// DeadLetterEntry is one line of the dead-letter log: the original record
// flattened, plus the diagnostic error and the time it was given up on.
type DeadLetterEntry struct {
	model.IngestRecord
	Error          string `json:"error"`
	DeadLetteredAt int64  `json:"deadLetteredAt"` // milliseconds since epoch
}

// DeadLetter is the append-only log of permanently failed records. Records
// land here when the error is non-transient or the retry budget (attempts
// or horizon) is exhausted; they are kept for operator triage and are never
// read by the pipeline itself.
type DeadLetter struct {
	mu sync.Mutex
	f  *os.File
}

// OpenDeadLetter opens (or creates) the DLQ file at path.
func OpenDeadLetter(path string) (*DeadLetter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter log: %w", err)
	}
	return &DeadLetter{f: f}, nil
}

// Write appends the failed record with its error. Fsynced: a dead-lettered
// record is the last trace of a message, losing it would break the
// at-least-once accounting.
func (d *DeadLetter) Write(rec model.IngestRecord, cause error) error {
	entry := DeadLetterEntry{
		IngestRecord:   rec,
		Error:          cause.Error(),
		DeadLetteredAt: time.Now().UnixMilli(),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}
	line = append(line, '\n')

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.Write(line); err != nil {
		return fmt.Errorf("append dead-letter entry: %w", err)
	}
	return d.f.Sync()
}

// Close releases the file handle.
func (d *DeadLetter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
