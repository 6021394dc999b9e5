package engine

import (
	"fmt"
	"math"

	"github.com/sells-group/decision-cli/internal/evidence"
	"github.com/sells-group/decision-cli/internal/model"
)

// h2hMinMatches is the head-to-head sample size below which the adjustment
// still applies but the decision carries a SMALL_SAMPLE warning.
const h2hMinMatches = 4

// h2hWeight scales the head-to-head bias into the home score.
const h2hWeight = 0.1

// evaluate1X2 scores the match-result market from net team strengths.
// The home side gets a fixed advantage, head-to-head history nudges the
// home score, and a base-2 softmax over (home, draw, away) produces the
// selection and separation.
func evaluate1X2(f evidence.Features) proposal {
	p := proposal{Market: model.Market1X2, MinSep: MinSeparation1X2}

	if f.HomeStrength == nil {
		p.Missing = append(p.Missing, evidence.PathTeamStrengthHome)
	}
	if f.AwayStrength == nil {
		p.Missing = append(p.Missing, evidence.PathTeamStrengthAway)
	}
	if len(p.Missing) > 0 {
		return p
	}

	homeScore := f.HomeStrength.GoalsScored - f.HomeStrength.GoalsConceded + HomeAdvantage
	awayScore := f.AwayStrength.GoalsScored - f.AwayStrength.GoalsConceded

	p.Refs = []string{"stats.team_strength"}

	var h2hReason string
	if f.H2H != nil && f.H2H.MatchesPlayed > 0 {
		total := float64(f.H2H.MatchesPlayed)
		bias := (float64(f.H2H.HomeWins)+0.5*float64(f.H2H.Draws))/total - 0.5
		homeScore += bias * h2hWeight

		p.Refs = append(p.Refs, "stats.head_to_head")
		h2hReason = fmt.Sprintf("H2H used (%d matches)", f.H2H.MatchesPlayed)
		if f.H2H.MatchesPlayed < h2hMinMatches {
			p.Flags = append(p.Flags, model.FlagSmallSample)
		}

		if sel := h2hSelection(bias); sel != "" {
			p.Signals = append(p.Signals, signal{
				Name:      "h2h",
				Selection: sel,
				Strength:  round4(math.Abs(bias) * 2),
			})
		}
	}

	// A close contest raises the draw score toward the pair.
	drawScore := -math.Abs(homeScore - awayScore)

	probs := softmax2([]float64{homeScore, drawScore, awayScore})
	selections := []string{model.SelectionHome, model.SelectionDraw, model.SelectionAway}

	top := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[top] {
			top = i
		}
	}
	second := -1
	for i := range probs {
		if i == top {
			continue
		}
		if second < 0 || probs[i] > probs[second] {
			second = i
		}
	}
	sep := probs[top] - probs[second]

	p.Selection = selections[top]
	p.Confidence = round4(clamp01(0.5 + 2*sep))
	p.Reasons = []string{fmt.Sprintf("top=%s sep=%.2f", p.Selection, sep)}
	if h2hReason != "" {
		p.Reasons = append(p.Reasons, h2hReason)
	}
	p.Signals = append(p.Signals, signal{
		Name:      "strength_model",
		Selection: p.Selection,
		Strength:  round4(sep),
	})
	return p
}

// h2hSelection maps the head-to-head bias to the side it favors. A dead
// even record favors nobody.
func h2hSelection(bias float64) string {
	switch {
	case bias > 0:
		return model.SelectionHome
	case bias < 0:
		return model.SelectionAway
	default:
		return ""
	}
}
