package workflow

import (
	"sync"
	"time"
)

// MetricsSummary represents aggregated masking attempt insights.
type MetricsSummary struct {
	TotalAttempts      int64   `json:"total_attempts"`
	SuccessfulAttempts int64   `json:"successful_attempts"`
	FailedAttempts     int64   `json:"failed_attempts"`
	DiscardedResponses int64   `json:"discarded_responses"`
	SuccessRate        float64 `json:"success_rate"`
	AverageLatencyMs   float64 `json:"average_latency_ms"`
}

// Metrics counts settled attempts across every controller that shares it. The zero
// value is ready to use and a nil *Metrics records nothing.
type Metrics struct {
	mu        sync.Mutex
	total     int64
	succeeded int64
	failed    int64
	discarded int64
	latency   time.Duration
}

func (m *Metrics) record(status Status, stale bool, latency time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.latency += latency
	switch {
	case stale:
		m.discarded++
	case status == StatusSucceeded:
		m.succeeded++
	default:
		m.failed++
	}
}

// Summary aggregates everything recorded so far.
func (m *Metrics) Summary() MetricsSummary {
	if m == nil {
		return MetricsSummary{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := MetricsSummary{
		TotalAttempts:      m.total,
		SuccessfulAttempts: m.succeeded,
		FailedAttempts:     m.failed,
		DiscardedResponses: m.discarded,
	}
	if m.total > 0 {
		summary.SuccessRate = float64(m.succeeded) / float64(m.total)
		summary.AverageLatencyMs = float64(m.latency.Milliseconds()) / float64(m.total)
	}
	return summary
}
