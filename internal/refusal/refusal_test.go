package refusal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/decision-cli/internal/decay"
	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/staleness"
)

var refusalNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func refOutcome(market model.Market, result model.OutcomeResult, conf float64, age time.Duration) model.Outcome {
	return model.Outcome{
		RunID:              "run-1",
		FixtureID:          "m-100",
		Market:             market,
		ReasonCode:         "TOP_SEP",
		Result:             result,
		Confidence:         conf,
		EvidenceObservedAt: refusalNow.Add(-age),
		DecidedAt:          refusalNow,
	}
}

func TestCandidatePolicies_Grid(t *testing.T) {
	policies := candidatePolicies()

	require.Len(t, policies, 17*4)
	assert.Equal(t, Policy{ConfidenceThreshold: 0.10, StaleBand: staleness.Band6to24h}, policies[0])
	assert.Equal(t, Policy{ConfidenceThreshold: 0.90, StaleBand: staleness.Band7dPlus}, policies[len(policies)-1])

	// Step accumulation must not leak float noise into the thresholds.
	assert.Equal(t, 0.15, policies[4].ConfidenceThreshold)
	assert.Equal(t, 0.35, policies[20].ConfidenceThreshold)
}

func TestTune_RefusesStaleLowConfidence(t *testing.T) {
	var outcomes []model.Outcome
	for i := 0; i < 10; i++ {
		outcomes = append(outcomes, refOutcome(model.Market1X2, model.OutcomeSuccess, 0.9, 10*time.Minute))
	}
	for i := 0; i < 5; i++ {
		outcomes = append(outcomes, refOutcome(model.Market1X2, model.OutcomeFailure, 0.3, 96*time.Hour))
	}

	r := Tune(outcomes, decay.Report{})

	best := r.Overall
	assert.Equal(t, Policy{ConfidenceThreshold: 0.35, StaleBand: staleness.Band6to24h}, best.Policy)
	assert.Equal(t, 5, best.Refused)
	assert.Equal(t, 10, best.Kept)
	assert.InDelta(t, 1.0, best.Accuracy, 0.0001)
	assert.InDelta(t, 0.3333, best.RefusalRate, 0.0001)
	assert.InDelta(t, 0.9667, best.Safety, 0.0001)
}

func TestTune_KeepEverythingWhenRefusalHurts(t *testing.T) {
	// Stale but accurate: any refusal just pays the rate tax.
	var outcomes []model.Outcome
	for i := 0; i < 10; i++ {
		outcomes = append(outcomes, refOutcome(model.Market1X2, model.OutcomeSuccess, 0.2, 96*time.Hour))
	}

	r := Tune(outcomes, decay.Report{})

	assert.Equal(t, 0, r.Overall.Refused)
	assert.InDelta(t, 1.0, r.Overall.Safety, 0.0001)
	// The no-op winner is the first grid candidate by tie-break.
	assert.Equal(t, Policy{ConfidenceThreshold: 0.10, StaleBand: staleness.Band6to24h}, r.Overall.Policy)
}

func TestTune_UsesEffectiveConfidence(t *testing.T) {
	// Fit: baseline 0.9 fresh, 0.5 accuracy in 3-7d => 0.6 penalty there.
	fit := decay.Fit(staleness.Report{Buckets: []staleness.Bucket{
		{Market: model.Market1X2, ReasonCode: "TOP_SEP", AgeBand: staleness.Band0to30m, Total: 10, Correct: 9, Accuracy: 0.9},
		{Market: model.Market1X2, ReasonCode: "TOP_SEP", AgeBand: staleness.Band3to7d, Total: 10, Correct: 5, Accuracy: 0.5},
	}})

	var outcomes []model.Outcome
	for i := 0; i < 5; i++ {
		outcomes = append(outcomes, refOutcome(model.Market1X2, model.OutcomeSuccess, 0.9, 10*time.Minute))
	}
	// Decision-time confidence 0.7 decays to 0.42 in the 3-7d band.
	for i := 0; i < 3; i++ {
		outcomes = append(outcomes, refOutcome(model.Market1X2, model.OutcomeFailure, 0.7, 96*time.Hour))
	}

	r := Tune(outcomes, fit)

	assert.Equal(t, Policy{ConfidenceThreshold: 0.45, StaleBand: staleness.Band6to24h}, r.Overall.Policy)
	assert.Equal(t, 3, r.Overall.Refused)
	assert.InDelta(t, 1.0, r.Overall.Accuracy, 0.0001)
}

func TestTune_NeutralsExcludedFromAccuracy(t *testing.T) {
	outcomes := []model.Outcome{
		refOutcome(model.Market1X2, model.OutcomeSuccess, 0.9, 10*time.Minute),
		refOutcome(model.Market1X2, model.OutcomeVoid, 0.9, 10*time.Minute),
		refOutcome(model.Market1X2, model.OutcomePending, 0.9, 10*time.Minute),
	}

	r := Tune(outcomes, decay.Report{})

	assert.Equal(t, 3, r.Overall.Kept)
	assert.Equal(t, 1, r.Overall.KeptDecided)
	assert.InDelta(t, 1.0, r.Overall.Accuracy, 0.0001)
}

func TestTune_PerMarketBest(t *testing.T) {
	var outcomes []model.Outcome
	// 1X2: clean history, nothing to refuse.
	for i := 0; i < 6; i++ {
		outcomes = append(outcomes, refOutcome(model.Market1X2, model.OutcomeSuccess, 0.9, 10*time.Minute))
	}
	// OU: stale low-confidence failures worth refusing.
	for i := 0; i < 4; i++ {
		outcomes = append(outcomes, refOutcome(model.MarketOU25, model.OutcomeSuccess, 0.9, 10*time.Minute))
	}
	for i := 0; i < 4; i++ {
		outcomes = append(outcomes, refOutcome(model.MarketOU25, model.OutcomeFailure, 0.3, 96*time.Hour))
	}

	r := Tune(outcomes, decay.Report{})

	require.Contains(t, r.ByMarket, model.Market1X2)
	require.Contains(t, r.ByMarket, model.MarketOU25)
	assert.Equal(t, 0, r.ByMarket[model.Market1X2].Refused)
	assert.Equal(t, 4, r.ByMarket[model.MarketOU25].Refused)
	assert.Equal(t, Policy{ConfidenceThreshold: 0.35, StaleBand: staleness.Band6to24h}, r.ByMarket[model.MarketOU25].Policy)
}

func TestTune_EmptyOutcomes(t *testing.T) {
	r := Tune(nil, decay.Report{})

	assert.Len(t, r.Grid, 17*4)
	assert.Equal(t, Policy{ConfidenceThreshold: 0.10, StaleBand: staleness.Band6to24h}, r.Overall.Policy)
	assert.Equal(t, 0, r.Overall.Total)
	assert.Empty(t, r.ByMarket)
}

func TestTune_GridInGenerationOrder(t *testing.T) {
	r := Tune(nil, decay.Report{})

	assert.Equal(t, 0.10, r.Grid[0].Policy.ConfidenceThreshold)
	assert.Equal(t, staleness.Band6to24h, r.Grid[0].Policy.StaleBand)
	assert.Equal(t, staleness.Band1to3d, r.Grid[1].Policy.StaleBand)
	assert.Equal(t, 0.90, r.Grid[len(r.Grid)-1].Policy.ConfidenceThreshold)
}
