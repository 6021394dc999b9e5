// Package refusal tunes a refuse-to-predict policy over historical
// outcomes: a grid of (confidence threshold, staleness band) candidates
// is simulated and scored by a safety objective that rewards accuracy on
// the decisions kept while taxing the refusal rate.
package refusal

import (
	"math"

	"github.com/sells-group/decision-cli/internal/decay"
	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/staleness"
)

// Candidate threshold grid bounds, inclusive.
const (
	thresholdMin  = 0.10
	thresholdMax  = 0.90
	thresholdStep = 0.05
)

// refusalRateWeight taxes the safety objective per unit of refusal rate.
const refusalRateWeight = 0.10

// staleBands are the candidate band thresholds. Anything younger than
// 6-24h never refuses; evidence that fresh is the system working as
// intended.
var staleBands = []string{
	staleness.Band6to24h,
	staleness.Band1to3d,
	staleness.Band3to7d,
	staleness.Band7dPlus,
}

// Policy is one candidate rule: refuse when the evidence band is at
// least as stale as StaleBand and effective confidence sits below
// ConfidenceThreshold.
type Policy struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	StaleBand           string  `json:"stale_band"`
}

// Evaluation is one policy's simulated result.
type Evaluation struct {
	Policy      Policy  `json:"policy"`
	Total       int     `json:"total"`
	Refused     int     `json:"refused"`
	Kept        int     `json:"kept"`
	KeptDecided int     `json:"kept_decided"`
	RefusalRate float64 `json:"refusal_rate"`
	Accuracy    float64 `json:"accuracy"`
	Safety      float64 `json:"safety"`
}

// Report carries the winning policies plus the full overall grid.
type Report struct {
	Overall  Evaluation                  `json:"overall"`
	ByMarket map[model.Market]Evaluation `json:"by_market"`
	Grid     []Evaluation                `json:"grid"`
}

type sample struct {
	market  model.Market
	bandIdx int
	effConf float64
	neutral bool
	correct bool
}

// Tune simulates every candidate policy over the outcome history,
// overall and per market. Effective confidence is the decision-time
// confidence scaled by the fitted decay penalty for the outcome's band.
func Tune(outcomes []model.Outcome, fit decay.Report) Report {
	samples := make([]sample, 0, len(outcomes))
	for i := range outcomes {
		o := &outcomes[i]
		band := staleness.BandFor(o.EvidenceAge())
		idx := staleness.BandIndex(band)
		if idx < 0 {
			idx = len(staleness.BandLabels) - 1
		}

		factor := 1.0
		if params, ok := fit.ParamsFor(o.Market, o.ReasonCode); ok && params.SupportedBands() > 0 {
			factor = params.PenaltyFor(band)
		}

		samples = append(samples, sample{
			market:  o.Market,
			bandIdx: idx,
			effConf: clamp01(o.Confidence * factor),
			neutral: o.Result.IsNeutral(),
			correct: o.Result == model.OutcomeSuccess,
		})
	}

	policies := candidatePolicies()

	report := Report{ByMarket: make(map[model.Market]Evaluation)}
	for i, p := range policies {
		ev := evaluate(p, samples)
		report.Grid = append(report.Grid, ev)
		if i == 0 || better(ev, report.Overall) {
			report.Overall = ev
		}
	}

	byMarket := make(map[model.Market][]sample)
	for _, s := range samples {
		byMarket[s.market] = append(byMarket[s.market], s)
	}
	for m, ms := range byMarket {
		var best Evaluation
		for i, p := range policies {
			ev := evaluate(p, ms)
			if i == 0 || better(ev, best) {
				best = ev
			}
		}
		report.ByMarket[m] = best
	}
	return report
}

// candidatePolicies enumerates the grid: thresholds ascending, then
// bands youngest first. Thresholds are rounded to two decimals so the
// grid carries 0.15, not step-accumulation noise.
func candidatePolicies() []Policy {
	var out []Policy
	for k := 0; ; k++ {
		threshold := math.Round((thresholdMin+float64(k)*thresholdStep)*100) / 100
		if threshold > thresholdMax {
			break
		}
		for _, band := range staleBands {
			out = append(out, Policy{ConfidenceThreshold: threshold, StaleBand: band})
		}
	}
	return out
}

func evaluate(p Policy, samples []sample) Evaluation {
	minIdx := staleness.BandIndex(p.StaleBand)
	ev := Evaluation{Policy: p, Total: len(samples)}

	correct := 0
	for _, s := range samples {
		if s.bandIdx >= minIdx && s.effConf < p.ConfidenceThreshold {
			ev.Refused++
			continue
		}
		ev.Kept++
		if s.neutral {
			continue
		}
		ev.KeptDecided++
		if s.correct {
			correct++
		}
	}

	if ev.Total > 0 {
		ev.RefusalRate = round4(float64(ev.Refused) / float64(ev.Total))
	}
	if ev.KeptDecided > 0 {
		ev.Accuracy = round4(float64(correct) / float64(ev.KeptDecided))
	}
	ev.Safety = round4(ev.Accuracy - refusalRateWeight*ev.RefusalRate)
	return ev
}

// better orders evaluations by the tie-break chain: safety desc, refusal
// rate asc, accuracy desc, threshold asc, band index asc.
func better(a, b Evaluation) bool {
	if a.Safety != b.Safety {
		return a.Safety > b.Safety
	}
	if a.RefusalRate != b.RefusalRate {
		return a.RefusalRate < b.RefusalRate
	}
	if a.Accuracy != b.Accuracy {
		return a.Accuracy > b.Accuracy
	}
	if a.Policy.ConfidenceThreshold != b.Policy.ConfidenceThreshold {
		return a.Policy.ConfidenceThreshold < b.Policy.ConfidenceThreshold
	}
	return staleness.BandIndex(a.Policy.StaleBand) < staleness.BandIndex(b.Policy.StaleBand)
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
