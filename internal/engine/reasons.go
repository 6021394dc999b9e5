package engine

import (
	"strings"

	"github.com/sells-group/decision-cli/internal/model"
)

// Reason codes: the stable vocabulary measurement jobs join on. Decision
// reasons stay human-readable; these codes are derived from them.
const (
	ReasonH2HUsed            = "H2H_USED"
	ReasonTopSeparation      = "TOP_SEP"
	ReasonMissingStats       = "MISSING_STATS"
	ReasonXGProxy            = "XG_PROXY"
	ReasonExpectedGoalsAbove = "EXPECTED_GOALS_ABOVE"
	ReasonExpectedGoalsBelow = "EXPECTED_GOALS_BELOW"
	ReasonBTTSTrend          = "BTTS_TREND"
	ReasonDefensiveStrength  = "DEFENSIVE_STRENGTH"
	ReasonGateBlocked        = "GATE_BLOCKED"
	ReasonGoalsTrend         = "GOALS_TREND"
	ReasonOther              = "OTHER"
)

// reasonPrefixes maps reason-text prefixes to codes, checked in order.
var reasonPrefixes = []struct {
	prefix string
	code   string
}{
	{"top=", ReasonTopSeparation},
	{"H2H used", ReasonH2HUsed},
	{"Missing stats", ReasonMissingStats},
	{"xG proxy", ReasonXGProxy},
	{"expected goals above", ReasonExpectedGoalsAbove},
	{"expected goals below", ReasonExpectedGoalsBelow},
	{"P(GG) proxy", ReasonBTTSTrend},
	{"defensive strength", ReasonDefensiveStrength},
	{"goals trend", ReasonGoalsTrend},
	{"Gate blocked", ReasonGateBlocked},
	{"soft downgrade", ReasonGateBlocked},
}

// ReasonCodeFor maps one reason text to its code.
func ReasonCodeFor(reason string) string {
	for _, rp := range reasonPrefixes {
		if strings.HasPrefix(reason, rp.prefix) {
			return rp.code
		}
	}
	return ReasonOther
}

// PrimaryReasonCode is the code of a decision's first reason: the key
// staleness and decay aggregation group by. Evaluators put the
// market-characteristic reason first, so the code identifies the model
// that produced the decision, not the gate that shaped it.
func PrimaryReasonCode(d model.Decision) string {
	if len(d.Reasons) == 0 {
		return ReasonOther
	}
	return ReasonCodeFor(d.Reasons[0])
}
