package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/erauner12/wa-gateway/internal/model"
)

// Options configures the ingestion service. Zero values are filled with the
// documented defaults.
type Options struct {
	LogPath        string
	CheckpointPath string
	DLQPath        string

	QueueCapacity int
	BatchSize     int
	BatchMaxWait  time.Duration
	Workers       int
	Retry         RetryPolicy

	// ReadyMaxQueueDepth: Ready() reports false at or above this depth.
	ReadyMaxQueueDepth int
}

func (o *Options) fillDefaults() {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 5000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.BatchMaxWait <= 0 {
		o.BatchMaxWait = 250 * time.Millisecond
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.Retry.Base <= 0 {
		o.Retry.Base = 100 * time.Millisecond
	}
	if o.Retry.Max <= 0 {
		o.Retry.Max = 5 * time.Second
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = 10
	}
	if o.Retry.MaxHorizon <= 0 {
		o.Retry.MaxHorizon = 10 * time.Minute
	}
	if o.ReadyMaxQueueDepth <= 0 {
		o.ReadyMaxQueueDepth = o.QueueCapacity * 9 / 10
	}
}

// Acceptance is the producer-visible outcome of an enqueue. Accepted means
// the record survived an fsync; everything downstream is asynchronous.
type Acceptance struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Rejection reasons surfaced to producers.
const (
	ReasonInvalidMessage  = "invalid_message"
	ReasonLogAppendFailed = "log_append_failed"
)

// Service owns the whole ingestion pipeline: durable log, bounded queue,
// worker pool, replay loop and metrics.
type Service struct {
	opts    Options
	wal     *Log
	cp      *Checkpoint
	dlq     *DeadLetter
	queue   *Queue
	pool    *WorkerPool
	replay  *Replayer
	metrics *Metrics
	log     zerolog.Logger

	readerStop chan struct{}
	readerWG   sync.WaitGroup
	closeOnce  sync.Once
}

// New opens the pipeline's files and wires its components. Call Start to
// launch the background tasks.
func New(opts Options, store BatchPersister, logger zerolog.Logger) (*Service, error) {
	opts.fillDefaults()

	wal, err := OpenLog(opts.LogPath)
	if err != nil {
		return nil, err
	}
	dlq, err := OpenDeadLetter(opts.DLQPath)
	if err != nil {
		wal.Close()
		return nil, err
	}

	metrics := NewMetrics()
	queue := NewQueue(opts.QueueCapacity)
	cp := NewCheckpoint(opts.CheckpointPath)

	s := &Service{
		opts:       opts,
		wal:        wal,
		cp:         cp,
		dlq:        dlq,
		queue:      queue,
		metrics:    metrics,
		log:        logger.With().Str("component", "ingest").Logger(),
		readerStop: make(chan struct{}),
	}
	s.pool = NewWorkerPool(store, queue, dlq, metrics, logger, opts.Workers, opts.BatchSize, opts.BatchMaxWait, opts.Retry)
	s.replay = NewReplayer(wal, cp, queue, metrics, logger)
	return s, nil
}

// Start launches workers, the replay loop and the metrics reader.
func (s *Service) Start(ctx context.Context) {
	s.pool.Start(ctx)
	s.replay.Start(ctx)

	s.readerWG.Add(1)
	go s.runMetricsReader()

	s.log.Info().
		Str("log", s.opts.LogPath).
		Int("queue_capacity", s.opts.QueueCapacity).
		Int("workers", s.opts.Workers).
		Msg("ingestion service started")
}

// Enqueue is the producer path. It validates, appends to the durable log
// (fsync before ack), then best-effort offers the record to the queue. A
// full queue is fine: the replay loop will deliver the record from the log.
func (s *Service) Enqueue(m model.MessageInfo) Acceptance {
	if !m.Valid() {
		return Acceptance{Accepted: false, Reason: ReasonInvalidMessage}
	}
	s.metrics.IncReceived()

	rec := model.NewIngestRecord(m)
	if err := s.wal.Append(rec); err != nil {
		s.metrics.IncLogAppendFailed()
		s.log.Error().Err(err).Str("idempotency_key", rec.IdempotencyKey).Msg("durable log append failed")
		return Acceptance{Accepted: false, Reason: ReasonLogAppendFailed}
	}

	if s.queue.TryEnqueue(rec) {
		s.metrics.IncEnqueued()
	}
	return Acceptance{Accepted: true}
}

// QueueDepth returns the number of buffered records.
func (s *Service) QueueDepth() int {
	return s.queue.Depth()
}

// Ready reports whether the pipeline can absorb more load.
func (s *Service) Ready() bool {
	return s.queue.Depth() < s.opts.ReadyMaxQueueDepth
}

// Metrics returns a point-in-time snapshot.
func (s *Service) Metrics() Snapshot {
	return s.metrics.Snapshot(s.queue.Depth())
}

// Close shuts the pipeline down in dependency order: stop tailing, close
// the queue so workers drain their batches, wait for the pool, then release
// the files.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.log.Info().Msg("stopping ingestion service")
		s.replay.Stop()
		s.queue.Close()
		s.pool.Stop()
		close(s.readerStop)
		s.readerWG.Wait()

		if err := s.wal.Close(); err != nil {
			s.log.Error().Err(err).Msg("closing durable log")
		}
		if err := s.dlq.Close(); err != nil {
			s.log.Error().Err(err).Msg("closing dead-letter log")
		}
		s.log.Info().Msg("ingestion service stopped")
	})
}

// runMetricsReader periodically folds worker busyness into the utilization
// moving average.
func (s *Service) runMetricsReader() {
	defer s.readerWG.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.readerStop:
			return
		case <-ticker.C:
			busy := float64(s.metrics.WorkersBusy()) / float64(s.opts.Workers)
			s.metrics.ObserveUtilization(busy)
		}
	}
}

// DrainForTest blocks until the queue is empty and all workers are idle, or
// the timeout elapses. Only used by tests and manual tooling.
func (s *Service) DrainForTest(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.queue.Depth() == 0 && s.metrics.WorkersBusy() == 0 {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("ingest: drain timed out after %s", timeout)
}
