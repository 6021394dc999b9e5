package engine

import (
	"math"

	"github.com/sells-group/decision-cli/internal/evidence"
	"github.com/sells-group/decision-cli/internal/model"
)

// Market evaluation constants.
const (
	// HomeAdvantage is added to the home side's net strength in 1X2 scoring.
	HomeAdvantage = 0.15

	// Minimum probability separation each market needs before a PLAY.
	MinSeparation1X2  = 0.10
	MinSeparationOU   = 0.08
	MinSeparationBTTS = 0.08

	// OULine is the goals line for the over/under market.
	OULine = 2.5

	// MinContradictionStrength is the floor both of two opposing signals
	// must clear to count as a contradiction.
	MinContradictionStrength = 0.15
)

// signal is one independent directional indicator a market evaluator emits.
// Two signals backing different selections at sufficient strength are a
// contradiction.
type signal struct {
	Name      string
	Selection string
	Strength  float64
}

// proposal is a market evaluator's raw output before the gate cascade runs.
// A proposal with missing feature paths never reaches scoring.
type proposal struct {
	Market     model.Market
	Selection  string
	Confidence float64
	MinSep     float64
	Reasons    []string
	Flags      []model.MarketFlag
	Refs       []string
	Signals    []signal
	Missing    []string
}

// propose dispatches to the market's evaluator. Unknown markets return an
// empty proposal; the supported-market gate rejects them later in the
// cascade.
func propose(market model.Market, f evidence.Features) proposal {
	switch market {
	case model.Market1X2:
		return evaluate1X2(f)
	case model.MarketOU25:
		return evaluateOverUnder(f)
	case model.MarketBTTS:
		return evaluateBTTS(f)
	default:
		return proposal{Market: market}
	}
}

// minPlayConfidence is the effective confidence floor for a market: the
// configured minimum or the confidence implied by the market's minimum
// separation, whichever is higher.
func (p proposal) minPlayConfidence(configured float64) float64 {
	implied := 0.5 + 2*p.MinSep
	if configured > implied {
		return configured
	}
	return implied
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// softmax2 is a base-2 softmax over raw scores.
func softmax2(scores []float64) []float64 {
	out := make([]float64, len(scores))
	var sum float64
	for i, v := range scores {
		out[i] = math.Pow(2, v)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
