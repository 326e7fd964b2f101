package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/erauner12/wa-gateway/internal/model"
)

// Log is the append-only durable record log: one JSON-encoded IngestRecord
// per LF-terminated line. Append fsyncs before returning, which is the
// at-least-once anchor: a producer is only told "accepted" once the record
// survives a crash. A partial final line (torn write) is not a record; the
// replay parser ignores it until its newline appears, and OpenLog drops one
// left behind by a crash so appends always start at a line boundary.
type Log struct {
	path string

	mu   sync.Mutex
	f    *os.File
	size atomic.Int64
}

// OpenLog opens (or creates) the log at path for appending, truncating a
// torn final line from an earlier crash.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ingestion log: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat ingestion log: %w", err)
	}
	size, err := resyncTail(f, st.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("resync ingestion log: %w", err)
	}
	l := &Log{path: path, f: f}
	l.size.Store(size)
	return l, nil
}

// resyncTail truncates a trailing line with no terminating newline. The
// fragment was never acknowledged, so dropping it is safe; keeping it would
// fuse the next Append onto it and make both unparseable.
func resyncTail(f *os.File, size int64) (int64, error) {
	if size == 0 {
		return 0, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return 0, err
	}
	if last[0] == '\n' {
		return size, nil
	}

	for end := size; end > 0; {
		start := end - 4096
		if start < 0 {
			start = 0
		}
		buf := make([]byte, end-start)
		if _, err := f.ReadAt(buf, start); err != nil {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
			cut := start + int64(i) + 1
			return cut, truncateTo(f, cut)
		}
		end = start
	}
	// The whole file is one torn line.
	return 0, truncateTo(f, 0)
}

func truncateTo(f *os.File, n int64) error {
	if err := f.Truncate(n); err != nil {
		return err
	}
	return f.Sync()
}

// Append serializes rec as one line and fsyncs. The record is durable iff
// Append returns nil.
func (l *Log) Append(rec model.IngestRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal ingest record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.f.Write(line)
	if err != nil {
		return fmt.Errorf("append ingest record: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("fsync ingestion log: %w", err)
	}
	l.size.Add(int64(n))
	return nil
}

// Size returns the current log length in bytes. The replay loop polls this
// to detect growth; it can lag a concurrent external truncation, which the
// checkpoint clamp handles.
func (l *Log) Size() int64 {
	// Prefer the filesystem's view so external rotation is observed.
	if st, err := os.Stat(l.path); err == nil {
		l.size.Store(st.Size())
		return st.Size()
	}
	return l.size.Load()
}

// ReaderAt opens an independent read handle positioned at offset.
func (l *Log) ReaderAt(offset int64) (io.ReadCloser, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open ingestion log for replay: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek ingestion log: %w", err)
	}
	return f, nil
}

// Close releases the append handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
