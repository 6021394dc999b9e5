package engine

import (
	"fmt"
	"math"

	"github.com/sells-group/decision-cli/internal/evidence"
	"github.com/sells-group/decision-cli/internal/model"
)

// rateCeiling converts a goals-per-game average into a [0,1] scoring rate.
const rateCeiling = 3.0

// cleanSheetAvg is the conceding average below which a side's defense
// counts as a both-score suppressor.
const cleanSheetAvg = 0.8

// evaluateBTTS scores the both-teams-to-score market. Each side's chance
// of scoring blends its attack rate with the opponent's conceding rate;
// the yes probability is the blended product of both sides.
func evaluateBTTS(f evidence.Features) proposal {
	p := proposal{Market: model.MarketBTTS, MinSep: MinSeparationBTTS}

	if f.GoalsTrend == nil {
		p.Missing = append(p.Missing, evidence.PathGoalsTrend)
		return p
	}
	t := f.GoalsTrend

	hs := clamp01(t.HomeScoredAvg / rateCeiling)
	as := clamp01(t.AwayScoredAvg / rateCeiling)
	hc := clamp01(t.HomeConcededAvg / rateCeiling)
	ac := clamp01(t.AwayConcededAvg / rateCeiling)

	pYes := math.Sqrt((hs * ac) * (as * hc))
	sep := math.Abs(2*pYes - 1)

	if pYes > 0.5 {
		p.Selection = model.SelectionYes
	} else {
		p.Selection = model.SelectionNo
	}
	p.Confidence = round4(clamp01(0.5 + 2*sep))
	p.Refs = []string{"stats.goals_trend"}
	p.Reasons = []string{
		fmt.Sprintf("P(GG) proxy=%.2f", pYes),
		"goals trend used",
	}

	p.Signals = append(p.Signals, signal{
		Name:      "scoring_trend",
		Selection: p.Selection,
		Strength:  round4(sep),
	})

	// A genuinely stingy defense on either side is an independent no-signal.
	minConceded := math.Min(t.HomeConcededAvg, t.AwayConcededAvg)
	if minConceded < cleanSheetAvg {
		strength := round4(clamp01(cleanSheetAvg - minConceded))
		p.Signals = append(p.Signals, signal{Name: "clean_sheet", Selection: model.SelectionNo, Strength: strength})
		p.Reasons = append(p.Reasons, fmt.Sprintf("defensive strength suppresses scoring (%.2f min conceded)", minConceded))
	}

	return p
}
