package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/erauner12/wa-gateway/internal/model"
)

// Replay loop tuning. The enqueue poll matches the queue's best-effort
// contract; the tail polls trade latency for not spinning on an idle log.
const (
	enqueuePoll     = 50 * time.Millisecond
	eofPoll         = 200 * time.Millisecond
	idlePoll        = 300 * time.Millisecond
	checkpointEvery = 1000
)

// Replayer tails the durable log from the checkpoint and feeds the queue.
// It is the authoritative delivery path: the producer's direct enqueue is
// only an optimization, every record is (re-)delivered from here. Corrupted
// lines are counted, logged and skipped; they never stop the tail.
type Replayer struct {
	wal     *Log
	cp      *Checkpoint
	queue   *Queue
	metrics *Metrics
	log     zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReplayer wires a replayer; Start launches the tail loop.
func NewReplayer(wal *Log, cp *Checkpoint, queue *Queue, metrics *Metrics, logger zerolog.Logger) *Replayer {
	return &Replayer{
		wal:     wal,
		cp:      cp,
		queue:   queue,
		metrics: metrics,
		log:     logger.With().Str("component", "ingest-replay").Logger(),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the replay goroutine.
func (r *Replayer) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop signals the loop and waits for it to checkpoint and exit.
func (r *Replayer) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Replayer) run(ctx context.Context) {
	defer r.wg.Done()

	offset := r.cp.Load()
	if size := r.wal.Size(); offset > size {
		// Log rotated or truncated under us: start over. Duplicates are
		// absorbed by the store's idempotent upsert.
		r.log.Warn().Int64("checkpoint", offset).Int64("log_size", size).Msg("checkpoint past end of log, resetting to 0")
		offset = 0
	}
	r.metrics.SetCheckpoint(offset)
	r.log.Info().Int64("offset", offset).Msg("replay loop started")

	for {
		if r.stopped(ctx) {
			r.saveCheckpoint(offset)
			return
		}

		size := r.wal.Size()
		if size < offset {
			r.log.Warn().Int64("offset", offset).Int64("log_size", size).Msg("log shrank below offset, resetting to 0")
			offset = 0
			continue
		}
		if size == offset {
			// EOF: poll for growth, then idle a little longer.
			if !r.sleep(ctx, eofPoll) {
				r.saveCheckpoint(offset)
				return
			}
			if r.wal.Size() > offset {
				continue
			}
			if !r.sleep(ctx, idlePoll) {
				r.saveCheckpoint(offset)
				return
			}
			continue
		}

		n, ok := r.consumeFrom(ctx, offset)
		if !ok {
			r.saveCheckpoint(n)
			return
		}
		if n == offset {
			// Bytes past the offset with no newline yet are a torn tail,
			// not a record. Poll for the rest of the line instead of
			// re-reading and re-checkpointing in a tight loop.
			if !r.sleep(ctx, eofPoll) {
				r.saveCheckpoint(offset)
				return
			}
			continue
		}
		offset = n
		r.saveCheckpoint(offset)
	}
}

// consumeFrom reads complete lines starting at offset and enqueues their
// records, returning the new offset. A partial final line (no newline yet)
// is left alone; the next pass re-reads from its start. Returns ok=false
// when shutting down.
func (r *Replayer) consumeFrom(ctx context.Context, offset int64) (int64, bool) {
	rc, err := r.wal.ReaderAt(offset)
	if err != nil {
		r.log.Error().Err(err).Int64("offset", offset).Msg("failed to open log for replay")
		r.sleep(ctx, idlePoll)
		return offset, !r.stopped(ctx)
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	enqueues := 0

	for {
		line, err := br.ReadBytes('\n')
		if err != nil {
			// EOF, possibly with a torn tail; not a record yet.
			return offset, true
		}

		var rec model.IngestRecord
		if jerr := json.Unmarshal(line, &rec); jerr != nil {
			r.metrics.IncReplayParseError()
			r.log.Error().Err(jerr).Int64("offset", offset).Msg("unparseable log line, skipping")
			offset += int64(len(line))
			r.saveCheckpoint(offset)
			continue
		}

		for !r.queue.TryEnqueue(rec) {
			if r.queue.Closed() || !r.sleep(ctx, enqueuePoll) {
				return offset, false
			}
		}
		r.metrics.IncEnqueued()
		offset += int64(len(line))

		enqueues++
		if enqueues%checkpointEvery == 0 {
			r.saveCheckpoint(offset)
		}
	}
}

func (r *Replayer) saveCheckpoint(offset int64) {
	if err := r.cp.Save(offset); err != nil {
		r.log.Error().Err(err).Int64("offset", offset).Msg("failed to save checkpoint")
		return
	}
	r.metrics.SetCheckpoint(offset)
}

func (r *Replayer) stopped(ctx context.Context) bool {
	select {
	case <-r.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// sleep waits for d unless stopping; returns false when interrupted.
func (r *Replayer) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
