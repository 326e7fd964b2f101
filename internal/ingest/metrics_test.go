package ingest

import "testing"

func TestObserveLatencyWindowWraps(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < latencyWindow+10; i++ {
		m.ObserveLatency(float64(i))
	}

	m.mu.Lock()
	n := len(m.latencies)
	next := m.latencyNext
	m.mu.Unlock()
	if n != latencyWindow {
		t.Fatalf("window holds %d samples, want %d", n, latencyWindow)
	}
	if next != 10 {
		t.Errorf("write position = %d, want 10", next)
	}

	// The oldest samples were evicted, so the percentiles move up.
	snap := m.Snapshot(0)
	if snap.PersistLatencyP50 < 10 {
		t.Errorf("p50 = %f, oldest samples not evicted", snap.PersistLatencyP50)
	}
	if snap.PersistLatencyP95 < snap.PersistLatencyP50 {
		t.Errorf("p95 %f below p50 %f", snap.PersistLatencyP95, snap.PersistLatencyP50)
	}
}
