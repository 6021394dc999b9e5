package activation

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/decision-cli/internal/reports"
)

const runIDTimeLayout = "20060102T150405Z"

// SelectRollout picks the deterministic rollout subset: match ids
// sorted ascending, first round(n*pct/100) of them. The same inputs
// always select the same matches, so reruns stay comparable.
func SelectRollout(matchIDs []string, pct float64) map[string]bool {
	selected := make(map[string]bool)
	if pct <= 0 || len(matchIDs) == 0 {
		return selected
	}
	sorted := append([]string(nil), matchIDs...)
	sort.Strings(sorted)
	if pct >= 100 {
		for _, id := range sorted {
			selected[id] = true
		}
		return selected
	}
	take := int(math.Round(float64(len(sorted)) * pct / 100.0))
	if take > len(sorted) {
		take = len(sorted)
	}
	for _, id := range sorted[:take] {
		selected[id] = true
	}
	return selected
}

// DailyUsed counts activation runs stamped with today's UTC date. Run
// ids without a parseable timestamp segment are ignored.
func DailyUsed(idx reports.Index, now time.Time) int {
	today := now.UTC().Format("20060102")
	used := 0
	for _, id := range idx.ActivationRuns {
		if ts, ok := runIDTime(id); ok && ts.Format("20060102") == today {
			used++
		}
	}
	return used
}

// DailyRemaining returns how many activations today's budget still
// allows. An unset budget means zero: activation stays off by default.
func (g *Gate) DailyRemaining(idx reports.Index, now time.Time) int {
	budget := g.posture.DailyMaxActivations
	if budget <= 0 {
		return 0
	}
	remaining := budget - DailyUsed(idx, now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func runIDTime(id string) (time.Time, bool) {
	for _, seg := range strings.Split(id, "_") {
		if ts, err := time.Parse(runIDTimeLayout, seg); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
