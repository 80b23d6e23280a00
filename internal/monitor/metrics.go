package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// RunMetrics tracks the throughput and latency of a replay.
type RunMetrics struct {
	// Latency histograms
	CandleLatency *LatencyHistogram
	OrderLatency  *LatencyHistogram

	// Counters
	candles   uint64
	accepted  uint64
	rejected  uint64
	cancelled uint64
	faults    uint64

	startedAt time.Time
}

// LatencyHistogram tracks latency samples with sliding window. Stats are
// recomputed only after new samples arrive.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewRunMetrics creates a new metrics instance.
func NewRunMetrics() *RunMetrics {
	return &RunMetrics{
		CandleLatency: NewLatencyHistogram(1000),
		OrderLatency:  NewLatencyHistogram(1000),
		startedAt:     time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99 of the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *RunMetrics) IncrementCandles()   { atomic.AddUint64(&m.candles, 1) }
func (m *RunMetrics) IncrementAccepted()  { atomic.AddUint64(&m.accepted, 1) }
func (m *RunMetrics) IncrementRejected()  { atomic.AddUint64(&m.rejected, 1) }
func (m *RunMetrics) IncrementCancelled() { atomic.AddUint64(&m.cancelled, 1) }
func (m *RunMetrics) IncrementFaults()    { atomic.AddUint64(&m.faults, 1) }

// MetricsSnapshot is a point-in-time view of RunMetrics.
type MetricsSnapshot struct {
	CandleLatency  LatencyStats  `json:"candle_latency"`
	OrderLatency   LatencyStats  `json:"order_latency"`
	Candles        uint64        `json:"candles"`
	Accepted       uint64        `json:"accepted"`
	Rejected       uint64        `json:"rejected"`
	Cancelled      uint64        `json:"cancelled"`
	Faults         uint64        `json:"faults"`
	Elapsed        time.Duration `json:"elapsed"`
	GoroutineCount int           `json:"goroutine_count"`
	HeapAlloc      uint64        `json:"heap_alloc_bytes"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Snapshot returns the current metrics.
func (m *RunMetrics) Snapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		CandleLatency:  m.CandleLatency.Stats(),
		OrderLatency:   m.OrderLatency.Stats(),
		Candles:        atomic.LoadUint64(&m.candles),
		Accepted:       atomic.LoadUint64(&m.accepted),
		Rejected:       atomic.LoadUint64(&m.rejected),
		Cancelled:      atomic.LoadUint64(&m.cancelled),
		Faults:         atomic.LoadUint64(&m.faults),
		Elapsed:        time.Since(m.startedAt),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		Timestamp:      time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
