// Package staleness buckets settled outcomes by the age their evidence
// had at decision time. Its aggregation is the feedstock for decay
// fitting, refusal tuning and the uncertainty signals; its band labels
// are the shared vocabulary of the whole measurement subsystem.
package staleness

import (
	"math"
	"sort"

	"github.com/sells-group/decision-cli/internal/model"
)

// Bucket is the aggregate for one (market, reason_code, age_band) cell.
type Bucket struct {
	Market        model.Market `json:"market"`
	ReasonCode    string       `json:"reason_code"`
	AgeBand       string       `json:"age_band"`
	Total         int          `json:"total"`
	Correct       int          `json:"correct"`
	Neutral       int          `json:"neutral"`
	Accuracy      float64      `json:"accuracy"`
	NeutralRate   float64      `json:"neutral_rate"`
	AvgConfidence float64      `json:"avg_confidence"`
}

// Report is the staleness aggregation over a set of settled outcomes.
type Report struct {
	TotalOutcomes int      `json:"total_outcomes"`
	ReasonCodes   int      `json:"reason_codes"`
	Buckets       []Bucket `json:"buckets"`
}

type bucketKey struct {
	market model.Market
	reason string
	band   string
}

// Aggregate groups outcomes into (market, reason_code, age_band) cells.
// Accuracy excludes neutral results (void, pending); a cell of nothing
// but neutrals scores zero. Average confidence covers every outcome in
// the cell. Output order is stable: market, reason code, then band age.
func Aggregate(outcomes []model.Outcome) Report {
	type acc struct {
		total, correct, neutral int
		confSum                 float64
	}
	cells := make(map[bucketKey]*acc)
	codes := make(map[string]bool)

	for i := range outcomes {
		o := &outcomes[i]
		key := bucketKey{market: o.Market, reason: o.ReasonCode, band: BandFor(o.EvidenceAge())}
		c := cells[key]
		if c == nil {
			c = &acc{}
			cells[key] = c
		}
		c.total++
		c.confSum += o.Confidence
		switch {
		case o.Result.IsNeutral():
			c.neutral++
		case o.Result == model.OutcomeSuccess:
			c.correct++
		}
		codes[o.ReasonCode] = true
	}

	buckets := make([]Bucket, 0, len(cells))
	for key, c := range cells {
		b := Bucket{
			Market:     key.market,
			ReasonCode: key.reason,
			AgeBand:    key.band,
			Total:      c.total,
			Correct:    c.correct,
			Neutral:    c.neutral,
		}
		if decided := c.total - c.neutral; decided > 0 {
			b.Accuracy = round4(float64(c.correct) / float64(decided))
		}
		b.NeutralRate = round4(float64(c.neutral) / float64(c.total))
		b.AvgConfidence = round4(c.confSum / float64(c.total))
		buckets = append(buckets, b)
	}

	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Market != buckets[j].Market {
			return buckets[i].Market < buckets[j].Market
		}
		if buckets[i].ReasonCode != buckets[j].ReasonCode {
			return buckets[i].ReasonCode < buckets[j].ReasonCode
		}
		return BandIndex(buckets[i].AgeBand) < BandIndex(buckets[j].AgeBand)
	})

	return Report{TotalOutcomes: len(outcomes), ReasonCodes: len(codes), Buckets: buckets}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
