// Package uncertainty simulates refusal-worthy warning signals over
// historical decisions: stale evidence, decayed effective confidence and
// thin decay-fit support. Like the penalty shadow, it never mutates
// stored decisions.
package uncertainty

import (
	"math"
	"sort"

	"github.com/sells-group/decision-cli/internal/decay"
	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/staleness"
)

// Signal codes.
const (
	SignalStaleEvidence          = "STALE_EVIDENCE"
	SignalLowEffectiveConfidence = "LOW_EFFECTIVE_CONFIDENCE"
	SignalLowSupport             = "LOW_SUPPORT"
)

// EffectiveConfidenceFloor is the penalized confidence below which the
// low-confidence signal fires.
const EffectiveConfidenceFloor = 0.5

// Signal is one warning raised for a decision.
type Signal struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Row is the uncertainty assessment of one historical decision.
type Row struct {
	RunID               string       `json:"run_id"`
	FixtureID           string       `json:"fixture_id"`
	Market              model.Market `json:"market"`
	ReasonCode          string       `json:"reason_code"`
	AgeBand             string       `json:"age_band"`
	EffectiveConfidence float64      `json:"effective_confidence"`
	Signals             []Signal     `json:"signals"`
	WouldRefuse         bool         `json:"would_refuse"`
}

// Report is the simulation over a full outcome history.
type Report struct {
	TotalDecisions int   `json:"total_decisions"`
	WouldRefuse    int   `json:"would_refuse"`
	Rows           []Row `json:"rows"`
}

// Assess evaluates every outcome against the fitted decay curves. The
// refusal rule: stale evidence combined with low effective confidence,
// or any two signals at once.
func Assess(outcomes []model.Outcome, fit decay.Report) Report {
	report := Report{}
	staleFrom := staleness.BandIndex(staleness.Band3to7d)

	for i := range outcomes {
		o := &outcomes[i]
		band := staleness.BandFor(o.EvidenceAge())

		factor := 1.0
		supported := false
		if params, ok := fit.ParamsFor(o.Market, o.ReasonCode); ok && params.SupportedBands() > 0 {
			factor = params.PenaltyFor(band)
			supported = true
		}
		effConf := round4(clamp01(o.Confidence * factor))

		row := Row{
			RunID:               o.RunID,
			FixtureID:           o.FixtureID,
			Market:              o.Market,
			ReasonCode:          o.ReasonCode,
			AgeBand:             band,
			EffectiveConfidence: effConf,
			Signals:             []Signal{},
		}

		stale := staleness.BandIndex(band) >= staleFrom
		lowConf := effConf < EffectiveConfidenceFloor

		if stale {
			row.Signals = append(row.Signals, Signal{Code: SignalStaleEvidence, Reason: band})
		}
		if lowConf {
			row.Signals = append(row.Signals, Signal{Code: SignalLowEffectiveConfidence, Reason: "threshold_0.5"})
		}
		if !supported {
			row.Signals = append(row.Signals, Signal{Code: SignalLowSupport, Reason: "decay_fit_low_support"})
		}

		row.WouldRefuse = (stale && lowConf) || len(row.Signals) >= 2
		if row.WouldRefuse {
			report.WouldRefuse++
		}
		report.Rows = append(report.Rows, row)
	}

	sort.SliceStable(report.Rows, func(i, j int) bool {
		a, b := report.Rows[i], report.Rows[j]
		if a.RunID != b.RunID {
			return a.RunID < b.RunID
		}
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		return a.ReasonCode < b.ReasonCode
	})

	report.TotalDecisions = len(report.Rows)
	return report
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
