package reconciler

import (
	"sync/atomic"
	"time"
)

// RunMetrics keeps in-process totals for one pass kind. Prometheus carries the
// same numbers; these feed the periodic log line.
type RunMetrics struct {
	runs       int64
	skipped    int64
	checked    int64
	updated    int64
	failed     int64
	durationNs int64
	startedNs  int64
}

func NewRunMetrics() *RunMetrics {
	return &RunMetrics{
		startedNs: time.Now().UnixNano(),
	}
}

func (m *RunMetrics) RecordRun(report Report, duration time.Duration) {
	atomic.AddInt64(&m.runs, 1)
	atomic.AddInt64(&m.checked, int64(report.Checked))
	atomic.AddInt64(&m.updated, int64(report.Updated))
	atomic.AddInt64(&m.failed, int64(report.Failed))
	atomic.AddInt64(&m.durationNs, int64(duration))
}

// RecordSkip counts a pass that did not run because another instance held
// the lock.
func (m *RunMetrics) RecordSkip() {
	atomic.AddInt64(&m.skipped, 1)
}

func (m *RunMetrics) GetStats() map[string]interface{} {
	runs := atomic.LoadInt64(&m.runs)
	durationNs := atomic.LoadInt64(&m.durationNs)
	startedNs := atomic.LoadInt64(&m.startedNs)

	avgDuration := time.Duration(0)
	if runs > 0 {
		avgDuration = time.Duration(durationNs / runs)
	}

	return map[string]interface{}{
		"runs":            runs,
		"skipped":         atomic.LoadInt64(&m.skipped),
		"orders_checked":  atomic.LoadInt64(&m.checked),
		"orders_updated":  atomic.LoadInt64(&m.updated),
		"orders_failed":   atomic.LoadInt64(&m.failed),
		"avg_duration_ms": avgDuration.Milliseconds(),
		"uptime_seconds":  time.Since(time.Unix(0, startedNs)).Seconds(),
	}
}
