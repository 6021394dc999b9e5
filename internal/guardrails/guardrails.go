// Package guardrails evaluates live-IO run metrics against operational
// thresholds. The guardrails are inert unless live IO is allowed, and a
// triggered guardrail downgrades the run to shadow instead of aborting
// it.
package guardrails

import (
	"fmt"

	"github.com/sells-group/decision-cli/internal/safety"
)

// SeverityWarn is the only severity guardrails emit. Escalation is the
// operator's call, not the tool's.
const SeverityWarn = "WARN"

// Alert codes.
const (
	CodeHighFailureRate = "LIVE_IO_HIGH_FAILURE_RATE"
	CodeHighP95Latency  = "LIVE_IO_HIGH_P95_LATENCY"
	CodeTimeouts        = "LIVE_IO_TIMEOUTS"
	CodeRateLimited     = "LIVE_IO_RATE_LIMITED"

	CodeBurnInLiveIOAlerts  = "BURN_IN_LIVE_IO_ALERTS"
	CodeBurnInPickChanges   = "BURN_IN_PICK_CHANGE_RATE"
	CodeBurnInConfidenceP95 = "BURN_IN_CONFIDENCE_DELTA_P95"
)

// Burn-in gates. A burn-in batch only counts as clean when all three
// hold.
const (
	BurnInMaxLiveIOAlerts       = 0
	BurnInMaxPickChangeRate     = 0.1
	BurnInMaxConfidenceDeltaP95 = 0.05
)

// Metrics aggregates one run's live-IO counters.
type Metrics struct {
	RequestsTotal    int     `json:"requests_total"`
	FailuresTotal    int     `json:"failures_total"`
	TimeoutsTotal    int     `json:"timeouts_total"`
	RateLimitedTotal int     `json:"rate_limited_total"`
	LatencyCount     int     `json:"latency_count"`
	P95LatencyMS     float64 `json:"p95_latency_ms"`
}

// FailureRate is failures over requests, zero when nothing was
// requested.
func (m Metrics) FailureRate() float64 {
	if m.RequestsTotal == 0 {
		return 0
	}
	return float64(m.FailuresTotal) / float64(m.RequestsTotal)
}

// Policy holds the live-IO thresholds.
type Policy struct {
	MaxFailureRate       float64 `json:"max_failure_rate"`
	MaxP95LatencyMS      float64 `json:"max_p95_latency_ms"`
	MaxTimeoutsPerRun    int     `json:"max_timeouts_per_run"`
	MaxRateLimitedPerRun int     `json:"max_rate_limited_per_run"`
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MaxFailureRate:       0.2,
		MaxP95LatencyMS:      5000,
		MaxTimeoutsPerRun:    5,
		MaxRateLimitedPerRun: 3,
	}
}

// Alert is one triggered guardrail.
type Alert struct {
	Code     string         `json:"code"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// Evaluate checks run metrics against the policy. Returns nil when the
// posture does not allow live IO: with no live traffic possible there
// is nothing to guard.
func Evaluate(posture safety.Snapshot, m Metrics, p Policy) []Alert {
	if !posture.LiveIOAllowed {
		return nil
	}

	var alerts []Alert

	if rate := m.FailureRate(); m.RequestsTotal > 0 && rate > p.MaxFailureRate {
		alerts = append(alerts, Alert{
			Code:     CodeHighFailureRate,
			Severity: SeverityWarn,
			Message: fmt.Sprintf("live-IO failure rate %.1f%% exceeds %.1f%% (%d failed / %d requests)",
				rate*100, p.MaxFailureRate*100, m.FailuresTotal, m.RequestsTotal),
			Details: map[string]any{
				"failure_rate": rate,
				"threshold":    p.MaxFailureRate,
				"failures":     m.FailuresTotal,
				"requests":     m.RequestsTotal,
			},
		})
	}

	if m.LatencyCount > 0 && m.P95LatencyMS > p.MaxP95LatencyMS {
		alerts = append(alerts, Alert{
			Code:     CodeHighP95Latency,
			Severity: SeverityWarn,
			Message: fmt.Sprintf("live-IO p95 latency %.0fms exceeds %.0fms over %d samples",
				m.P95LatencyMS, p.MaxP95LatencyMS, m.LatencyCount),
			Details: map[string]any{
				"p95_latency_ms": m.P95LatencyMS,
				"threshold_ms":   p.MaxP95LatencyMS,
				"samples":        m.LatencyCount,
			},
		})
	}

	if m.TimeoutsTotal > p.MaxTimeoutsPerRun {
		alerts = append(alerts, Alert{
			Code:     CodeTimeouts,
			Severity: SeverityWarn,
			Message: fmt.Sprintf("%d live-IO timeouts exceed the per-run cap of %d",
				m.TimeoutsTotal, p.MaxTimeoutsPerRun),
			Details: map[string]any{
				"timeouts": m.TimeoutsTotal,
				"cap":      p.MaxTimeoutsPerRun,
			},
		})
	}

	if m.RateLimitedTotal > p.MaxRateLimitedPerRun {
		alerts = append(alerts, Alert{
			Code:     CodeRateLimited,
			Severity: SeverityWarn,
			Message: fmt.Sprintf("%d rate-limited responses exceed the per-run cap of %d",
				m.RateLimitedTotal, p.MaxRateLimitedPerRun),
			Details: map[string]any{
				"rate_limited": m.RateLimitedTotal,
				"cap":          p.MaxRateLimitedPerRun,
			},
		})
	}

	return alerts
}

// BurnInStats is what one burn-in batch must answer for.
type BurnInStats struct {
	LiveIOAlerts       int     `json:"live_io_alerts"`
	PickChangeRate     float64 `json:"pick_change_rate"`
	ConfidenceDeltaP95 float64 `json:"confidence_delta_p95"`
}

// CheckBurnIn applies the burn-in gates. Any returned alert holds the
// batch in shadow.
func CheckBurnIn(stats BurnInStats) []Alert {
	var alerts []Alert

	if stats.LiveIOAlerts > BurnInMaxLiveIOAlerts {
		alerts = append(alerts, Alert{
			Code:     CodeBurnInLiveIOAlerts,
			Severity: SeverityWarn,
			Message: fmt.Sprintf("%d live-IO alerts during burn-in (allowed %d)",
				stats.LiveIOAlerts, BurnInMaxLiveIOAlerts),
			Details: map[string]any{"alerts": stats.LiveIOAlerts},
		})
	}

	if stats.PickChangeRate > BurnInMaxPickChangeRate {
		alerts = append(alerts, Alert{
			Code:     CodeBurnInPickChanges,
			Severity: SeverityWarn,
			Message: fmt.Sprintf("pick change rate %.3f exceeds burn-in cap %.2f",
				stats.PickChangeRate, BurnInMaxPickChangeRate),
			Details: map[string]any{"pick_change_rate": stats.PickChangeRate},
		})
	}

	if stats.ConfidenceDeltaP95 > BurnInMaxConfidenceDeltaP95 {
		alerts = append(alerts, Alert{
			Code:     CodeBurnInConfidenceP95,
			Severity: SeverityWarn,
			Message: fmt.Sprintf("confidence delta p95 %.3f exceeds burn-in cap %.2f",
				stats.ConfidenceDeltaP95, BurnInMaxConfidenceDeltaP95),
			Details: map[string]any{"confidence_delta_p95": stats.ConfidenceDeltaP95},
		})
	}

	return alerts
}
