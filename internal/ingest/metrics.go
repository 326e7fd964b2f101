package ingest

import (
	"sort"
	"sync"
	"sync/atomic"
)

const latencyWindow = 5000

// Metrics collects pipeline counters and latency samples. Everything is
// cheap enough to update on the hot path; Snapshot copies under lock.
type Metrics struct {
	received         atomic.Int64
	enqueued         atomic.Int64
	persisted        atomic.Int64
	retried          atomic.Int64
	deadLettered     atomic.Int64
	logAppendFailed  atomic.Int64
	replayParseError atomic.Int64

	checkpointOffset atomic.Int64
	workersBusy      atomic.Int64

	mu          sync.Mutex
	errorCodes  map[string]int64
	latencies   []float64 // ms, ring buffer
	latencyNext int
	utilization float64 // moving average, updated by the metrics reader
}

// NewMetrics returns an empty metrics set.
func NewMetrics() *Metrics {
	return &Metrics{errorCodes: make(map[string]int64)}
}

func (m *Metrics) IncReceived()         { m.received.Add(1) }
func (m *Metrics) IncEnqueued()         { m.enqueued.Add(1) }
func (m *Metrics) AddPersisted(n int)   { m.persisted.Add(int64(n)) }
func (m *Metrics) IncRetried()          { m.retried.Add(1) }
func (m *Metrics) IncDeadLettered()     { m.deadLettered.Add(1) }
func (m *Metrics) IncLogAppendFailed()  { m.logAppendFailed.Add(1) }
func (m *Metrics) IncReplayParseError() { m.replayParseError.Add(1) }

// SetCheckpoint records the current replay checkpoint offset.
func (m *Metrics) SetCheckpoint(off int64) { m.checkpointOffset.Store(off) }

// WorkerBusy tracks how many workers are inside a flush right now.
func (m *Metrics) WorkerBusy(delta int) { m.workersBusy.Add(int64(delta)) }

// CountError buckets a persistence error by its transient marker, or
// "permanent" when none matched.
func (m *Metrics) CountError(err error) {
	code := transientMarker(err)
	if code == "" {
		code = "permanent"
	}
	m.mu.Lock()
	m.errorCodes[code]++
	m.mu.Unlock()
}

// ObserveLatency records one persistence latency sample in milliseconds,
// keeping at most latencyWindow samples.
func (m *Metrics) ObserveLatency(ms float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) < latencyWindow {
		m.latencies = append(m.latencies, ms)
		return
	}
	m.latencies[m.latencyNext] = ms
	m.latencyNext = (m.latencyNext + 1) % latencyWindow
}

// ObserveUtilization folds the instantaneous busy fraction into the moving
// average. Called periodically by the service's metrics reader.
func (m *Metrics) ObserveUtilization(busyFraction float64) {
	m.mu.Lock()
	m.utilization = m.utilization*0.8 + busyFraction*0.2
	m.mu.Unlock()
}

// WorkersBusy returns the instantaneous number of busy workers.
func (m *Metrics) WorkersBusy() int {
	return int(m.workersBusy.Load())
}

// Counters is the counter section of a snapshot.
type Counters struct {
	Received         int64            `json:"received"`
	Enqueued         int64            `json:"enqueued"`
	Persisted        int64            `json:"persisted"`
	Retried          int64            `json:"retried"`
	DeadLettered     int64            `json:"deadLettered"`
	LogAppendFailed  int64            `json:"logAppendFailed"`
	ReplayParseError int64            `json:"replayParseError"`
	Errors           map[string]int64 `json:"errors,omitempty"`
}

// Snapshot is a point-in-time view of the pipeline's health.
type Snapshot struct {
	Counters          Counters `json:"counters"`
	QueueDepth        int      `json:"queueDepth"`
	WorkerUtilization float64  `json:"workerUtilization"`
	PersistLatencyP50 float64  `json:"persistLatencyP50Ms"`
	PersistLatencyP95 float64  `json:"persistLatencyP95Ms"`
	CheckpointOffset  int64    `json:"checkpointOffset"`
}

// Snapshot copies the current state. queueDepth is supplied by the caller
// because the queue belongs to the service, not the metrics set.
func (m *Metrics) Snapshot(queueDepth int) Snapshot {
	m.mu.Lock()
	errs := make(map[string]int64, len(m.errorCodes))
	for k, v := range m.errorCodes {
		errs[k] = v
	}
	samples := make([]float64, len(m.latencies))
	copy(samples, m.latencies)
	util := m.utilization
	m.mu.Unlock()

	p50, p95 := percentiles(samples)

	return Snapshot{
		Counters: Counters{
			Received:         m.received.Load(),
			Enqueued:         m.enqueued.Load(),
			Persisted:        m.persisted.Load(),
			Retried:          m.retried.Load(),
			DeadLettered:     m.deadLettered.Load(),
			LogAppendFailed:  m.logAppendFailed.Load(),
			ReplayParseError: m.replayParseError.Load(),
			Errors:           errs,
		},
		QueueDepth:        queueDepth,
		WorkerUtilization: util,
		PersistLatencyP50: p50,
		PersistLatencyP95: p95,
		CheckpointOffset:  m.checkpointOffset.Load(),
	}
}

func percentiles(samples []float64) (p50, p95 float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	sort.Float64s(samples)
	idx := func(p float64) int {
		i := int(p * float64(len(samples)-1))
		return i
	}
	return samples[idx(0.50)], samples[idx(0.95)]
}
