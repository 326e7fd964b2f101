package ingest

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/erauner12/wa-gateway/internal/model"
)

// maxSplitDepth bounds the binary-search recursion during failure
// isolation. 2^20 exceeds any realistic batch size.
const maxSplitDepth = 20

// BatchPersister is the slice of the store the workers need. The batch is
// transactional and idempotent: duplicate message ids are no-ops.
type BatchPersister interface {
	SaveMessagesBatch(ctx context.Context, recs []model.IngestRecord) error
}

// RetryPolicy controls per-record retry of transient persistence errors.
type RetryPolicy struct {
	Base        time.Duration // first backoff step
	Max         time.Duration // backoff ceiling
	MaxAttempts int           // give up after this many attempts
	MaxHorizon  time.Duration // give up once the record is this old
}

// WorkerPool runs W batching persisters over the shared queue.
//
// Each worker accumulates records into a batch and flushes when the batch
// reaches BatchSize or the oldest buffered record has waited BatchMaxWait.
// A failed batch is bisected to isolate the poison record; survivors of the
// bisection go through per-record retry with jittered exponential backoff,
// and records that exhaust the budget land in the dead-letter log.
type WorkerPool struct {
	store   BatchPersister
	queue   *Queue
	dlq     *DeadLetter
	metrics *Metrics
	log     zerolog.Logger

	workers      int
	batchSize    int
	batchMaxWait time.Duration
	retry        RetryPolicy

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorkerPool wires a pool; Start launches the workers.
func NewWorkerPool(store BatchPersister, queue *Queue, dlq *DeadLetter, metrics *Metrics, logger zerolog.Logger, workers, batchSize int, batchMaxWait time.Duration, retry RetryPolicy) *WorkerPool {
	return &WorkerPool{
		store:        store,
		queue:        queue,
		dlq:          dlq,
		metrics:      metrics,
		log:          logger.With().Str("component", "ingest-workers").Logger(),
		workers:      workers,
		batchSize:    batchSize,
		batchMaxWait: batchMaxWait,
		retry:        retry,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Int("batch_size", p.batchSize).Msg("starting worker pool")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop signals the workers and waits for them to flush and exit. Closing
// the queue first lets them drain buffered records.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	var batch []model.IngestRecord
	timer := time.NewTimer(p.batchMaxWait)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.metrics.WorkerBusy(1)
		p.persistBatch(ctx, batch, 0)
		p.metrics.WorkerBusy(-1)
		batch = nil
	}

	for {
		if len(batch) == 0 {
			// Idle: wait for the first record of the next batch.
			select {
			case rec, ok := <-p.queue.Chan():
				if !ok {
					return
				}
				batch = append(batch, rec)
				timer.Reset(p.batchMaxWait)
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case rec, ok := <-p.queue.Chan():
			if !ok {
				// Queue closed: drain is over, flush what we have.
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= p.batchSize {
				stopTimer(timer)
				flush()
			}
		case <-timer.C:
			flush()
		case <-p.stopCh:
			stopTimer(timer)
			flush()
			return
		case <-ctx.Done():
			stopTimer(timer)
			flush()
			log.Debug().Msg("context cancelled, worker exiting")
			return
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// persistBatch attempts the batch once and, on failure, bisects it to
// isolate the poison record. Halves recurse independently so one bad record
// cannot hold the rest of the batch hostage.
func (p *WorkerPool) persistBatch(ctx context.Context, recs []model.IngestRecord, depth int) {
	start := time.Now()
	err := p.store.SaveMessagesBatch(ctx, recs)
	if err == nil {
		p.metrics.ObserveLatency(float64(time.Since(start).Microseconds()) / 1000)
		p.metrics.AddPersisted(len(recs))
		return
	}
	p.metrics.CountError(err)

	if IsTransient(err) && len(recs) > 1 && depth < maxSplitDepth {
		mid := len(recs) / 2
		p.persistBatch(ctx, recs[:mid], depth+1)
		p.persistBatch(ctx, recs[mid:], depth+1)
		return
	}

	for _, rec := range recs {
		p.retryRecord(ctx, rec)
	}
}

// retryRecord drives a single record to the store with jittered exponential
// backoff until success, a non-transient error, or the retry budget
// (attempts or horizon) runs out. Terminal failures go to the DLQ.
func (p *WorkerPool) retryRecord(ctx context.Context, rec model.IngestRecord) {
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := p.store.SaveMessagesBatch(ctx, []model.IngestRecord{rec})
		if err == nil {
			p.metrics.ObserveLatency(float64(time.Since(start).Microseconds()) / 1000)
			p.metrics.AddPersisted(1)
			return
		}
		p.metrics.CountError(err)

		if !IsTransient(err) {
			p.deadLetter(rec, err, "non-transient error")
			return
		}
		if attempt+1 >= p.retry.MaxAttempts {
			p.deadLetter(rec, err, "attempts exhausted")
			return
		}
		if rec.Age(time.Now()) >= p.retry.MaxHorizon {
			p.deadLetter(rec, err, "horizon exhausted")
			return
		}

		p.metrics.IncRetried()
		if !p.sleep(ctx, p.backoff(attempt)) {
			// Shutting down: the record stays in the durable log and is
			// replayed on restart.
			return
		}
	}
}

// backoff computes min(max, base*2^attempt) plus up to 20% jitter.
func (p *WorkerPool) backoff(attempt int) time.Duration {
	wait := p.retry.Base << uint(attempt)
	if wait > p.retry.Max || wait <= 0 {
		wait = p.retry.Max
	}
	jitter := time.Duration(rand.Float64() * 0.2 * float64(wait))
	return wait + jitter
}

func (p *WorkerPool) deadLetter(rec model.IngestRecord, cause error, reason string) {
	p.log.Warn().
		Str("idempotency_key", rec.IdempotencyKey).
		Str("correlation_id", rec.CorrelationID).
		Str("reason", reason).
		Err(cause).
		Msg("dead-lettering record")
	if err := p.dlq.Write(rec, cause); err != nil {
		p.log.Error().Err(err).Str("idempotency_key", rec.IdempotencyKey).Msg("failed to write dead-letter entry")
	}
	p.metrics.IncDeadLettered()
}

// sleep waits for d unless the pool stops or ctx is cancelled first.
func (p *WorkerPool) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
