// Package worstcase ranks the most damaging historical failures: the
// confident misses, weighted up when the uncertainty shadow says they
// should have been refused. The ranked lists make the long tail of bad
// decisions reviewable instead of buried in aggregates.
package worstcase

import (
	"math"
	"sort"

	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/staleness"
	"github.com/sells-group/decision-cli/internal/uncertainty"
)

// TopN caps each ranked list.
const TopN = 50

// refuseWeight is the score bump for failures the refusal shadow would
// have caught.
const refuseWeight = 0.25

// Row is one ranked failure.
type Row struct {
	RunID       string       `json:"run_id"`
	FixtureID   string       `json:"fixture_id"`
	Market      model.Market `json:"market"`
	ReasonCode  string       `json:"reason_code"`
	AgeBand     string       `json:"age_band"`
	Confidence  float64      `json:"confidence"`
	WouldRefuse bool         `json:"would_refuse"`
	Score       float64      `json:"score"`
}

// Report holds the overall and per-market rankings.
type Report struct {
	TotalFailures int                    `json:"total_failures"`
	Overall       []Row                  `json:"overall"`
	ByMarket      map[model.Market][]Row `json:"by_market"`
}

type refuseKey struct {
	runID   string
	fixture string
	market  model.Market
}

// Rank scores every failed outcome and returns the worst TopN overall
// and per market. Successes and neutrals score zero and are dropped;
// ties break on fixture id so the lists are byte-stable.
func Rank(outcomes []model.Outcome, unc uncertainty.Report) Report {
	refused := make(map[refuseKey]bool, len(unc.Rows))
	for _, r := range unc.Rows {
		if r.WouldRefuse {
			refused[refuseKey{runID: r.RunID, fixture: r.FixtureID, market: r.Market}] = true
		}
	}

	var rows []Row
	for i := range outcomes {
		o := &outcomes[i]
		if o.Result != model.OutcomeFailure {
			continue
		}
		wr := refused[refuseKey{runID: o.RunID, fixture: o.FixtureID, market: o.Market}]
		score := 1 + clamp01(o.Confidence)
		if wr {
			score += refuseWeight
		}
		rows = append(rows, Row{
			RunID:       o.RunID,
			FixtureID:   o.FixtureID,
			Market:      o.Market,
			ReasonCode:  o.ReasonCode,
			AgeBand:     staleness.BandFor(o.EvidenceAge()),
			Confidence:  round4(o.Confidence),
			WouldRefuse: wr,
			Score:       round4(score),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].FixtureID < rows[j].FixtureID
	})

	report := Report{
		TotalFailures: len(rows),
		ByMarket:      make(map[model.Market][]Row),
	}
	report.Overall = truncate(rows)
	for _, r := range rows {
		report.ByMarket[r.Market] = append(report.ByMarket[r.Market], r)
	}
	for m, list := range report.ByMarket {
		report.ByMarket[m] = truncate(list)
	}
	return report
}

func truncate(rows []Row) []Row {
	if len(rows) > TopN {
		return rows[:TopN]
	}
	return rows
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
