package gateway

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const latencyWindow = 128

// ActionStats counts calls per vendor action.
type ActionStats struct {
	Calls    int64 `json:"calls"`
	Rejected int64 `json:"rejected"`
	Failed   int64 `json:"failed"`
}

// ProviderMetrics keeps in-process call counters. ConsecutiveFails drives the
// circuit breaker; the rest feeds Client.Stats.
type ProviderMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	RejectedReqs     atomic.Int64
	FailedReqs       atomic.Int64
	ConsecutiveFails atomic.Int32
	lastSuccess      atomic.Int64
	lastFailure      atomic.Int64

	mu        sync.Mutex
	latencies [latencyWindow]int64 // ring of answered-call latencies
	filled    int
	next      int
	answered  int64
	totalMs   int64
	lastMs    int64
	actions   map[string]*ActionStats
}

func NewProviderMetrics() *ProviderMetrics {
	return &ProviderMetrics{actions: make(map[string]*ActionStats)}
}

func (m *ProviderMetrics) RecordSuccess(action string, latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.ConsecutiveFails.Store(0)
	m.lastSuccess.Store(time.Now().UnixNano())
	m.answer(action, latencyMs, false)
}

// RecordRejected counts a vendor refusal. The vendor answered, so the failure
// streak is reset.
func (m *ProviderMetrics) RecordRejected(action string, latencyMs int64) {
	m.TotalRequests.Add(1)
	m.RejectedReqs.Add(1)
	m.ConsecutiveFails.Store(0)
	m.answer(action, latencyMs, true)
}

func (m *ProviderMetrics) RecordFailure(action string) {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.lastFailure.Store(time.Now().UnixNano())

	m.mu.Lock()
	a := m.action(action)
	a.Calls++
	a.Failed++
	m.mu.Unlock()
}

func (m *ProviderMetrics) answer(action string, latencyMs int64, rejected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.action(action)
	a.Calls++
	if rejected {
		a.Rejected++
	}

	m.latencies[m.next] = latencyMs
	m.next = (m.next + 1) % latencyWindow
	if m.filled < latencyWindow {
		m.filled++
	}
	m.answered++
	m.totalMs += latencyMs
	m.lastMs = latencyMs
}

// action must be called with mu held.
func (m *ProviderMetrics) action(name string) *ActionStats {
	a, ok := m.actions[name]
	if !ok {
		a = &ActionStats{}
		m.actions[name] = a
	}
	return a
}

// AvgLatencyMs averages every answered call, rejections included.
func (m *ProviderMetrics) AvgLatencyMs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.answered == 0 {
		return 0
	}
	return m.totalMs / m.answered
}

func (m *ProviderMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

// P95LatencyMs is taken over the last latencyWindow answered calls.
func (m *ProviderMetrics) P95LatencyMs() int64 {
	m.mu.Lock()
	window := slices.Clone(m.latencies[:m.filled])
	m.mu.Unlock()

	if len(window) == 0 {
		return 0
	}
	slices.Sort(window)
	return window[min(len(window)*95/100, len(window)-1)]
}

func (m *ProviderMetrics) snapshot() (lastMs int64, actions map[string]ActionStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions = make(map[string]ActionStats, len(m.actions))
	for k, v := range m.actions {
		actions[k] = *v
	}
	return m.lastMs, actions
}

type ProviderState int

const (
	StateHealthy ProviderState = iota
	StateDegraded
	StateCircuitOpen
)

func stateString(state ProviderState) string {
	switch state {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ProviderStats is what GET /provider/stats returns.
type ProviderStats struct {
	URL              string                 `json:"url"`
	State            string                 `json:"state"`
	TotalRequests    int64                  `json:"total_requests"`
	SuccessfulReqs   int64                  `json:"successful_requests"`
	RejectedReqs     int64                  `json:"rejected_requests"`
	FailedReqs       int64                  `json:"failed_requests"`
	SuccessRate      float64                `json:"success_rate"`
	AvgLatencyMs     int64                  `json:"avg_latency_ms"`
	P95LatencyMs     int64                  `json:"p95_latency_ms"`
	LastLatencyMs    int64                  `json:"last_latency_ms"`
	ConsecutiveFails int32                  `json:"consecutive_fails"`
	LastSuccessAt    *time.Time             `json:"last_success_at,omitempty"`
	LastFailureAt    *time.Time             `json:"last_failure_at,omitempty"`
	Actions          map[string]ActionStats `json:"actions"`
}

func unixNanoPtr(n int64) *time.Time {
	if n == 0 {
		return nil
	}
	t := time.Unix(0, n)
	return &t
}
