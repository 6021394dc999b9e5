package engine

import (
	"fmt"
	"math"

	"github.com/sells-group/decision-cli/internal/evidence"
	"github.com/sells-group/decision-cli/internal/model"
)

// Defensive signal thresholds for the over/under market: average goals
// conceded below the tight bound pushes under, above the leaky bound
// pushes over.
const (
	tightDefenseAvg = 1.0
	leakyDefenseAvg = 1.6
)

// evaluateOverUnder scores the total-goals market from recent scoring form.
// Expected goals are proxied by crossing each side's scoring average with
// the opponent's conceding average, then squashed around the line with a
// tanh curve.
func evaluateOverUnder(f evidence.Features) proposal {
	p := proposal{Market: model.MarketOU25, MinSep: MinSeparationOU}

	if f.GoalsTrend == nil {
		p.Missing = append(p.Missing, evidence.PathGoalsTrend)
		return p
	}
	t := f.GoalsTrend

	xg := (t.HomeScoredAvg+t.AwayConcededAvg)/2 + (t.AwayScoredAvg+t.HomeConcededAvg)/2
	pOver := 0.5 + 0.5*math.Tanh(0.5*(xg-OULine))
	sep := math.Abs(2*pOver - 1)

	if pOver > 0.5 {
		p.Selection = model.SelectionOver
	} else {
		p.Selection = model.SelectionUnder
	}
	p.Confidence = round4(clamp01(0.5 + 2*sep))
	p.Refs = []string{"stats.goals_trend"}

	p.Reasons = []string{fmt.Sprintf("xG proxy xg=%.2f", xg)}
	if pOver > 0.5 {
		p.Reasons = append(p.Reasons, fmt.Sprintf("expected goals above %.1f line", OULine))
	} else {
		p.Reasons = append(p.Reasons, fmt.Sprintf("expected goals below %.1f line", OULine))
	}

	p.Signals = append(p.Signals, signal{
		Name:      "xg_proxy",
		Selection: p.Selection,
		Strength:  round4(sep),
	})

	// Independent defensive read: tight defenses pull under, leaky ones over.
	avgConceded := (t.HomeConcededAvg + t.AwayConcededAvg) / 2
	switch {
	case avgConceded < tightDefenseAvg:
		strength := round4(clamp01(tightDefenseAvg - avgConceded))
		p.Signals = append(p.Signals, signal{Name: "defense", Selection: model.SelectionUnder, Strength: strength})
		p.Reasons = append(p.Reasons, fmt.Sprintf("defensive strength: %.2f avg conceded", avgConceded))
	case avgConceded > leakyDefenseAvg:
		strength := round4(clamp01(avgConceded - leakyDefenseAvg))
		p.Signals = append(p.Signals, signal{Name: "defense", Selection: model.SelectionOver, Strength: strength})
	}

	return p
}
