// Package decay fits a piecewise confidence-decay curve per (market,
// reason_code) from the staleness aggregation. The fitted penalties are
// multipliers in [0,1]: how much of its decision-time confidence a
// prediction keeps at a given evidence age.
package decay

import (
	"math"
	"sort"

	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/staleness"
)

// ModelVersion identifies the fitted curve shape.
const ModelVersion = "PIECEWISE_V1"

// MinSupport is the decided-outcome count a band needs before its
// accuracy feeds the fit.
const MinSupport = 5

// BandPenalty is one band's fitted multiplier.
type BandPenalty struct {
	AgeBand   string  `json:"age_band"`
	Penalty   float64 `json:"penalty"`
	Support   int     `json:"support"`
	Accuracy  float64 `json:"accuracy"`
	Supported bool    `json:"supported"`
}

// Params is the fitted curve for one (market, reason_code) key.
type Params struct {
	Market       model.Market  `json:"market"`
	ReasonCode   string        `json:"reason_code"`
	ModelVersion string        `json:"model_version"`
	Baseline     float64       `json:"baseline"`
	BaselineBand string        `json:"baseline_band,omitempty"`
	Bands        []BandPenalty `json:"bands"`
}

// SupportedBands counts bands whose accuracy fed the fit.
func (p *Params) SupportedBands() int {
	n := 0
	for _, b := range p.Bands {
		if b.Supported {
			n++
		}
	}
	return n
}

// PenaltyFor returns the fitted multiplier for the band, 1.0 when the
// band is not part of the vocabulary.
func (p *Params) PenaltyFor(band string) float64 {
	for _, b := range p.Bands {
		if b.AgeBand == band {
			return b.Penalty
		}
	}
	return 1.0
}

// Diagnostics summarizes fit coverage across all keys.
type Diagnostics struct {
	Keys             int     `json:"keys"`
	KeysWithBaseline int     `json:"keys_with_baseline"`
	BandsWithSupport int     `json:"bands_with_support"`
	MSEVsBaseline    float64 `json:"mse_vs_baseline"`
}

// Report is the full decay fit over one staleness aggregation.
type Report struct {
	ModelVersion string      `json:"model_version"`
	MinSupport   int         `json:"min_support"`
	Params       []Params    `json:"params"`
	Diagnostics  Diagnostics `json:"diagnostics"`
}

// ParamsFor returns the fitted curve for the key.
func (r *Report) ParamsFor(market model.Market, reasonCode string) (Params, bool) {
	for _, p := range r.Params {
		if p.Market == market && p.ReasonCode == reasonCode {
			return p, true
		}
	}
	return Params{}, false
}

type fitKey struct {
	market model.Market
	reason string
}

// Fit builds the decay curves from a staleness report. The baseline is
// the youngest band with enough decided outcomes; bands below the
// support floor carry the previous band's penalty forward (1.0 at the
// head), and a final pass clamps the curve to be non-increasing with
// age. A key with no supported band at all fits flat 1.0 penalties.
func Fit(st staleness.Report) Report {
	byKey := make(map[fitKey]map[string]staleness.Bucket)
	for _, b := range st.Buckets {
		key := fitKey{market: b.Market, reason: b.ReasonCode}
		if byKey[key] == nil {
			byKey[key] = make(map[string]staleness.Bucket)
		}
		byKey[key][b.AgeBand] = b
	}

	keys := make([]fitKey, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].market != keys[j].market {
			return keys[i].market < keys[j].market
		}
		return keys[i].reason < keys[j].reason
	})

	report := Report{ModelVersion: ModelVersion, MinSupport: MinSupport}
	var sqErrSum float64
	var sqErrN int

	for _, key := range keys {
		bands := byKey[key]
		p := Params{Market: key.market, ReasonCode: key.reason, ModelVersion: ModelVersion, Baseline: 1.0}

		baselineFound := false
		for _, label := range staleness.BandLabels {
			b, ok := bands[label]
			if !ok || b.Total-b.Neutral < MinSupport {
				continue
			}
			p.Baseline = b.Accuracy
			p.BaselineBand = label
			baselineFound = true
			break
		}

		prev := 1.0
		for _, label := range staleness.BandLabels {
			bp := BandPenalty{AgeBand: label, Penalty: prev}
			if b, ok := bands[label]; ok {
				bp.Support = b.Total - b.Neutral
				bp.Accuracy = b.Accuracy
			}
			if baselineFound && bp.Support >= MinSupport {
				bp.Supported = true
				bp.Penalty = round4(clamp01(1 - math.Max(0, p.Baseline-bp.Accuracy)))
				sqErrSum += (bp.Accuracy - p.Baseline) * (bp.Accuracy - p.Baseline)
				sqErrN++
				report.Diagnostics.BandsWithSupport++
			}
			prev = bp.Penalty
			p.Bands = append(p.Bands, bp)
		}

		// Older evidence never earns its confidence back.
		for i := 1; i < len(p.Bands); i++ {
			if p.Bands[i].Penalty > p.Bands[i-1].Penalty {
				p.Bands[i].Penalty = p.Bands[i-1].Penalty
			}
		}

		if baselineFound {
			report.Diagnostics.KeysWithBaseline++
		}
		report.Params = append(report.Params, p)
	}

	report.Diagnostics.Keys = len(report.Params)
	if sqErrN > 0 {
		report.Diagnostics.MSEVsBaseline = round4(sqErrSum / float64(sqErrN))
	}
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
