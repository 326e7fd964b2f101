package ingest

import (
	"sync"

	"github.com/erauner12/wa-gateway/internal/model"
)

// Queue is the bounded in-memory handoff between producers (the session
// event handlers and the replay loop) and the persister workers. It is
// best-effort by design: TryEnqueue never blocks, and a full queue is not
// an error for the producer path because the durable log already holds the
// record.
type Queue struct {
	mu     sync.Mutex
	ch     chan model.IngestRecord
	closed bool
}

// NewQueue creates a FIFO queue with the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan model.IngestRecord, capacity)}
}

// TryEnqueue offers rec without blocking. Returns false when the queue is
// full or closed.
func (q *Queue) TryEnqueue(rec model.IngestRecord) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- rec:
		return true
	default:
		return false
	}
}

// Chan exposes the consumer side. Workers receive in enqueue order; a
// closed channel still drains its buffered records before signalling
// end-of-stream, which is what makes shutdown draining work.
func (q *Queue) Chan() <-chan model.IngestRecord {
	return q.ch
}

// Depth returns the number of buffered records.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Close ends the stream. Consumers drain the remaining records and then
// observe channel close; further TryEnqueue calls fail.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
