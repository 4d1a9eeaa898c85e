package engine

import (
	"sync"
	"time"
)

// DefaultMetricsWindow is how far back Snapshot looks when summing counters.
const DefaultMetricsWindow = time.Hour

// metricsBucket is the counter bucket granularity.
const metricsBucket = time.Minute

// Metrics counts admission decisions per operation type and reason over a rolling
// window: increments land in per-minute buckets and buckets older than the window
// fall out of Snapshot, so the numbers reflect recent traffic rather than process
// lifetime. It is an in-process surface for logging and debug endpoints; there is
// no exporter dependency.
type Metrics struct {
	mu      sync.Mutex
	window  time.Duration
	buckets map[int64]map[string]uint64
	now     func() time.Time
}

// NewMetrics creates an empty counter set with the default window.
func NewMetrics() *Metrics {
	return &Metrics{
		window:  DefaultMetricsWindow,
		buckets: make(map[int64]map[string]uint64),
		now:     time.Now,
	}
}

// inc bumps the counter for one (operation type, reason) pair in the current bucket.
func (m *Metrics) inc(operationType, reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.now().Truncate(metricsBucket).Unix()
	counts := m.buckets[bucket]
	if counts == nil {
		counts = make(map[string]uint64)
		m.buckets[bucket] = counts
	}
	counts[operationType+"/"+reason]++
	m.prune(bucket)
}

// Snapshot returns the summed counters for the rolling window, keyed
// "operationType/reason". The returned map is a copy.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(m.now().Truncate(metricsBucket).Unix())
	out := make(map[string]uint64)
	for _, counts := range m.buckets {
		for k, v := range counts {
			out[k] += v
		}
	}
	return out
}

// prune drops buckets that have aged out of the window. Callers hold mu.
func (m *Metrics) prune(current int64) {
	oldest := current - int64(m.window/time.Second)
	for bucket := range m.buckets {
		if bucket < oldest {
			delete(m.buckets, bucket)
		}
	}
}
