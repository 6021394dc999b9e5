package replay

import (
	"math"
	"time"

	"github.com/sells-group/decision-cli/internal/decay"
	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/uncertainty"
)

// ArtifactLateData is the robustness summary file name inside a burn-in
// bundle.
const ArtifactLateData = "late_data_summary.json"

// RobustnessDelayHours is the simulated arrival delay.
const RobustnessDelayHours = 24

// RobustnessSummary compares the uncertainty assessment of the real
// history against the same history with every piece of evidence aged by
// the delay. Positive refusal delta means the system refuses more when
// data is late, which is the wanted direction.
type RobustnessSummary struct {
	Outcomes            int     `json:"outcomes"`
	DelayHours          int     `json:"delay_hours"`
	BaselineAccuracy    float64 `json:"baseline_accuracy"`
	BaselineRefusalRate float64 `json:"baseline_refusal_rate"`
	DelayedAccuracy     float64 `json:"delayed_accuracy"`
	DelayedRefusalRate  float64 `json:"delayed_refusal_rate"`
	AccuracyDelta24h    float64 `json:"accuracy_delta_24h"`
	RefusalDelta24h     float64 `json:"refusal_delta_24h"`
}

// ComputeRobustness runs the assessment twice, delayed minus baseline.
func ComputeRobustness(outcomes []model.Outcome, fit decay.Report) RobustnessSummary {
	baseline := assessStats(outcomes, fit)

	delay := time.Duration(RobustnessDelayHours) * time.Hour
	delayed := make([]model.Outcome, len(outcomes))
	copy(delayed, outcomes)
	for i := range delayed {
		if delayed[i].EvidenceObservedAt.IsZero() {
			delayed[i].EvidenceObservedAt = delayed[i].DecidedAt.Add(-delay)
			continue
		}
		delayed[i].EvidenceObservedAt = delayed[i].EvidenceObservedAt.Add(-delay)
	}
	shifted := assessStats(delayed, fit)

	return RobustnessSummary{
		Outcomes:            len(outcomes),
		DelayHours:          RobustnessDelayHours,
		BaselineAccuracy:    baseline.accuracy,
		BaselineRefusalRate: baseline.refusalRate,
		DelayedAccuracy:     shifted.accuracy,
		DelayedRefusalRate:  shifted.refusalRate,
		AccuracyDelta24h:    roundDelta(shifted.accuracy - baseline.accuracy),
		RefusalDelta24h:     roundDelta(shifted.refusalRate - baseline.refusalRate),
	}
}

type refusalStats struct {
	accuracy    float64
	refusalRate float64
}

type decisionKey struct {
	runID      string
	fixtureID  string
	market     model.Market
	reasonCode string
}

// assessStats joins the uncertainty rows back to their outcomes so the
// kept-decided accuracy can be computed; the rows themselves carry no
// result.
func assessStats(outcomes []model.Outcome, fit decay.Report) refusalStats {
	report := uncertainty.Assess(outcomes, fit)

	refused := make(map[decisionKey]bool, len(report.Rows))
	for _, row := range report.Rows {
		refused[decisionKey{row.RunID, row.FixtureID, row.Market, row.ReasonCode}] = row.WouldRefuse
	}

	keptDecided, correct := 0, 0
	for i := range outcomes {
		o := &outcomes[i]
		if refused[decisionKey{o.RunID, o.FixtureID, o.Market, o.ReasonCode}] {
			continue
		}
		if o.Result.IsNeutral() {
			continue
		}
		keptDecided++
		if o.Result == model.OutcomeSuccess {
			correct++
		}
	}

	var s refusalStats
	if report.TotalDecisions > 0 {
		s.refusalRate = roundDelta(float64(report.WouldRefuse) / float64(report.TotalDecisions))
	}
	if keptDecided > 0 {
		s.accuracy = roundDelta(float64(correct) / float64(keptDecided))
	}
	return s
}

func roundDelta(v float64) float64 {
	return math.Round(v*10000) / 10000
}
