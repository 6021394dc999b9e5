// Package penalty runs the shadow confidence-penalty simulation: fitted
// decay curves applied to historical outcomes, reported but never written
// back to stored decisions.
package penalty

import (
	"encoding/csv"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/decision-cli/internal/decay"
	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/staleness"
)

// Row is one decision's shadow penalty application.
type Row struct {
	RunID               string       `json:"run_id"`
	Market              model.Market `json:"market"`
	ReasonCode          string       `json:"reason_code"`
	AgeBand             string       `json:"age_band"`
	OriginalConfidence  float64      `json:"original_confidence"`
	PenaltyFactor       float64      `json:"penalty_factor"`
	PenalizedConfidence float64      `json:"penalized_confidence"`
}

// Report is the full shadow simulation output.
type Report struct {
	ModelVersion  string `json:"model_version"`
	TotalRows     int    `json:"total_rows"`
	RowsPenalized int    `json:"rows_penalized"`
	Rows          []Row  `json:"rows"`
}

// csvColumns defines the ordered shadow-report CSV output columns.
var csvColumns = []string{
	"run_id",
	"market",
	"reason_code",
	"age_band",
	"original_confidence",
	"penalty_factor",
	"penalized_confidence",
}

// Simulate applies the fitted curves to every outcome. Keys without
// fitted params, or fitted without any supported band, keep factor 1.0.
// Rows come back sorted by (run, market, reason code).
func Simulate(outcomes []model.Outcome, fit decay.Report) Report {
	report := Report{ModelVersion: fit.ModelVersion}

	for i := range outcomes {
		o := &outcomes[i]
		band := staleness.BandFor(o.EvidenceAge())

		factor := 1.0
		if params, ok := fit.ParamsFor(o.Market, o.ReasonCode); ok && params.SupportedBands() > 0 {
			factor = params.PenaltyFor(band)
		}

		row := Row{
			RunID:               o.RunID,
			Market:              o.Market,
			ReasonCode:          o.ReasonCode,
			AgeBand:             band,
			OriginalConfidence:  round4(o.Confidence),
			PenaltyFactor:       round4(factor),
			PenalizedConfidence: round4(clamp01(o.Confidence * factor)),
		}
		if row.PenaltyFactor < 1.0 {
			report.RowsPenalized++
		}
		report.Rows = append(report.Rows, row)
	}

	sort.SliceStable(report.Rows, func(i, j int) bool {
		a, b := report.Rows[i], report.Rows[j]
		if a.RunID != b.RunID {
			return a.RunID < b.RunID
		}
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		return a.ReasonCode < b.ReasonCode
	})

	report.TotalRows = len(report.Rows)
	return report
}

// WriteCSV renders the rows in the fixed column order.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvColumns); err != nil {
		return eris.Wrap(err, "penalty: write header")
	}
	for _, r := range rows {
		rec := []string{
			r.RunID,
			string(r.Market),
			r.ReasonCode,
			r.AgeBand,
			formatConf(r.OriginalConfidence),
			formatConf(r.PenaltyFactor),
			formatConf(r.PenalizedConfidence),
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "penalty: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "penalty: flush")
}

func formatConf(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
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
