package engine

import (
	"fmt"
	"strings"

	"github.com/sells-group/decision-cli/internal/model"
)

// decideMarket runs the ordered gate cascade for one market over its
// already-computed proposal. The first failing gate is terminal for the
// market; every gate evaluated on the way is recorded in the trail.
func (e *Engine) decideMarket(prop proposal, quality, consensus float64) (model.Decision, []model.GateResult) {
	market := prop.Market
	var trail []model.GateResult
	flags := append([]model.MarketFlag(nil), prop.Flags...)

	record := func(id model.GateID, pass bool, note string) {
		trail = append(trail, model.GateResult{GateID: id, Market: market, Pass: pass, Notes: note})
	}

	// Required features present.
	if len(prop.Missing) > 0 {
		record(model.GateMissingKeyFeatures, false, "missing: "+strings.Join(prop.Missing, ", "))
		d := blocked(prop, flags, model.FlagMissingKeyFeatures)
		d.Reasons = append(d.Reasons, "Missing stats: "+strings.Join(prop.Missing, ", "))
		return d, trail
	}
	record(model.GateMissingKeyFeatures, true, "required features present")

	// Aggregate evidence quality.
	if quality < model.EvidenceQualityMin {
		record(model.GateEvidenceQuality, false, fmt.Sprintf("quality %.2f < %.2f", quality, model.EvidenceQualityMin))
		return blocked(prop, flags, model.FlagLowQualityEvidence), trail
	}
	record(model.GateEvidenceQuality, true, fmt.Sprintf("quality %.2f", quality))

	// Source conflict: below T1 blocks, the [T1,T2) band downgrades unless
	// confidence clears the override ceiling. The band always leaves a
	// CONSENSUS_WEAK warning behind, override or not.
	switch {
	case consensus < model.ConflictT1Block:
		record(model.GateSourceConflict, false,
			fmt.Sprintf("consensus_quality %.2f < T1 %.2f", consensus, model.ConflictT1Block))
		return blocked(prop, flags, model.FlagSourceConflict), trail
	case consensus < model.ConflictT2Downgrade:
		flags = appendFlag(flags, model.FlagConsensusWeak)
		if prop.Confidence <= model.OverrideConfidenceBelowT2 {
			record(model.GateSourceConflict, false,
				fmt.Sprintf("consensus_quality %.2f in [T1,T2); confidence %.2f <= override %.2f",
					consensus, prop.Confidence, model.OverrideConfidenceBelowT2))
			return downgraded(prop, flags, fmt.Sprintf("soft downgrade: weak consensus %.2f", consensus)), trail
		}
		record(model.GateSourceConflict, true,
			fmt.Sprintf("consensus_quality %.2f in [T1,T2); confidence override", consensus))
	default:
		record(model.GateSourceConflict, true, fmt.Sprintf("consensus_quality %.2f", consensus))
	}

	// Contradiction between independent signals.
	if a, b, ok := findContradiction(prop.Signals); ok {
		record(model.GateSignalContradiction, false,
			fmt.Sprintf("signal %s=%s (%.2f) vs %s=%s (%.2f)",
				a.Name, a.Selection, a.Strength, b.Name, b.Selection, b.Strength))
		return blocked(prop, flags, model.FlagSignalContradiction), trail
	}
	record(model.GateSignalContradiction, true, "signals aligned")

	// Market in the supported set.
	if !market.IsSupported() {
		record(model.GateMarketSupported, false, string(market)+" not supported")
		return blocked(prop, flags, model.FlagMarketNotSupported), trail
	}
	record(model.GateMarketSupported, true, "market supported")

	// Soft downgrades: confidence floor, then accumulated warnings.
	minConf := prop.minPlayConfidence(e.minConfidence)
	if prop.Confidence < minConf {
		record(model.GateSoftBorderlineConfidence, false,
			fmt.Sprintf("confidence %.2f < min %.2f", prop.Confidence, minConf))
		return downgraded(prop, flags,
			fmt.Sprintf("soft downgrade: confidence %.2f < min %.2f", prop.Confidence, minConf)), trail
	}
	record(model.GateSoftBorderlineConfidence, true, "confidence above threshold")

	if n := model.CountMinorFlags(flags); n >= model.MaxMinorFlagsBeforeNoBet {
		record(model.GateSoftMinorFlags, false,
			fmt.Sprintf("minor flags count %d >= %d", n, model.MaxMinorFlagsBeforeNoBet))
		return downgraded(prop, flags, fmt.Sprintf("soft downgrade: %d minor flags", n)), trail
	}
	record(model.GateSoftMinorFlags, true, "minor flags within limit")

	return played(prop, flags), trail
}

// findContradiction scans for two signals backing different selections,
// both at contradiction strength. First qualifying pair in emission order
// wins, keeping the gate note deterministic.
func findContradiction(signals []signal) (signal, signal, bool) {
	for i := 0; i < len(signals); i++ {
		if signals[i].Strength < MinContradictionStrength {
			continue
		}
		for j := i + 1; j < len(signals); j++ {
			if signals[j].Strength < MinContradictionStrength {
				continue
			}
			if signals[i].Selection != signals[j].Selection {
				return signals[i], signals[j], true
			}
		}
	}
	return signal{}, signal{}, false
}

// blocked builds the NO_PREDICTION decision for a failed hard gate.
func blocked(prop proposal, flags []model.MarketFlag, terminal model.MarketFlag) model.Decision {
	return model.Decision{
		Market:        prop.Market,
		Kind:          model.DecisionNoPrediction,
		Reasons:       []string{"Gate blocked: " + string(terminal)},
		Flags:         appendFlag(flags, terminal),
		EvidenceRefs:  prop.Refs,
		PolicyVersion: model.PolicyVersion,
	}
}

// downgraded builds the NO_BET decision for a soft gate. The proposal's
// reasons and confidence survive; the selection does not.
func downgraded(prop proposal, flags []model.MarketFlag, reason string) model.Decision {
	conf := prop.Confidence
	reasons := append(append([]string(nil), prop.Reasons...), reason)
	return model.Decision{
		Market:        prop.Market,
		Kind:          model.DecisionNoBet,
		Confidence:    &conf,
		Reasons:       reasons,
		Flags:         flags,
		EvidenceRefs:  prop.Refs,
		PolicyVersion: model.PolicyVersion,
	}
}

// played builds the PLAY decision.
func played(prop proposal, flags []model.MarketFlag) model.Decision {
	conf := prop.Confidence
	return model.Decision{
		Market:        prop.Market,
		Kind:          model.DecisionPlay,
		Selection:     prop.Selection,
		Confidence:    &conf,
		Reasons:       append([]string(nil), prop.Reasons...),
		Flags:         flags,
		EvidenceRefs:  prop.Refs,
		PolicyVersion: model.PolicyVersion,
	}
}

func appendFlag(flags []model.MarketFlag, f model.MarketFlag) []model.MarketFlag {
	for _, existing := range flags {
		if existing == f {
			return flags
		}
	}
	return append(flags, f)
}
