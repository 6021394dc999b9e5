// Package measure runs the offline measurement batch over settled
// outcomes: staleness aggregation, decay fitting, then the penalty,
// uncertainty, worst-case and refusal stages fanned out in parallel.
// Every stage report lands as a stable JSON artifact in one bundle
// under reports/measurement/<run_id>/.
package measure

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/decision-cli/internal/decay"
	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/ops"
	"github.com/sells-group/decision-cli/internal/penalty"
	"github.com/sells-group/decision-cli/internal/refusal"
	"github.com/sells-group/decision-cli/internal/reports"
	"github.com/sells-group/decision-cli/internal/staleness"
	"github.com/sells-group/decision-cli/internal/store"
	"github.com/sells-group/decision-cli/internal/uncertainty"
	"github.com/sells-group/decision-cli/internal/worstcase"
)

// Artifact file names inside a measurement bundle.
const (
	ArtifactStaleness   = "staleness_report.json"
	ArtifactDecay       = "decay_model.json"
	ArtifactPenaltyJSON = "confidence_penalty_shadow.json"
	ArtifactPenaltyCSV  = "confidence_penalty_shadow.csv"
	ArtifactUncertainty = "uncertainty_report.json"
	ArtifactWorstCase   = "worst_case_report.json"
	ArtifactRefusal     = "refusal_tuning_report.json"
	ArtifactSummary     = "summary.json"
)

// OutcomeSource lists settled decision outcomes for measurement.
type OutcomeSource interface {
	ListOutcomes(ctx context.Context, filter store.OutcomeFilter) ([]model.Outcome, error)
}

// Result carries every stage report from one measurement batch.
type Result struct {
	RunID     string
	BundleDir string
	Outcomes  int

	Staleness   staleness.Report
	Decay       decay.Report
	Penalty     penalty.Report
	Uncertainty uncertainty.Report
	WorstCase   worstcase.Report
	Refusal     refusal.Report
}

// Summary is the batch-level summary.json artifact.
type Summary struct {
	RunID            string  `json:"run_id"`
	GeneratedAtUTC   string  `json:"generated_at_utc"`
	Outcomes         int     `json:"outcomes"`
	ReasonCodes      int     `json:"reason_codes"`
	StalenessBuckets int     `json:"staleness_buckets"`
	DecayKeys        int     `json:"decay_keys"`
	RowsPenalized    int     `json:"rows_penalized"`
	WouldRefuse      int     `json:"would_refuse"`
	WorstCaseRows    int     `json:"worst_case_rows"`
	BestSafety       float64 `json:"refusal_best_safety"`
	DurationMS       int64   `json:"duration_ms"`
}

// Runner executes measurement batches against outcome history.
type Runner struct {
	source  OutcomeSource
	nowFunc func() time.Time
}

// NewRunner creates a measurement runner reading from source.
func NewRunner(source OutcomeSource) *Runner {
	return &Runner{source: source, nowFunc: time.Now}
}

// NewRunID returns a fresh measurement run id, for example
// measurement_20250301T120000Z_1a2b3c4d.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("measurement_%s_%s",
		now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// Run executes every measurement stage over all stored outcomes,
// writes the artifact bundle and records the run in the reports index.
func (r *Runner) Run(ctx context.Context, reportsRoot string) (*Result, error) {
	started := r.nowFunc()

	outcomes, err := r.source.ListOutcomes(ctx, store.OutcomeFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "measure: list outcomes")
	}

	runID := NewRunID(started)
	zap.L().Info("measure: batch start",
		zap.String("run_id", runID),
		zap.Int("outcomes", len(outcomes)),
	)

	res := &Result{RunID: runID, Outcomes: len(outcomes)}

	bundleDir := filepath.Join(reports.BundleDir(reportsRoot, reports.CategoryMeasurement), runID)
	bundle, err := reports.NewBundle(bundleDir)
	if err != nil {
		return nil, err
	}
	res.BundleDir = bundleDir

	// Staleness feeds the decay fit; everything downstream shares both.
	res.Staleness = staleness.Aggregate(outcomes)
	res.Decay = decay.Fit(res.Staleness)
	if err := bundle.WriteJSON(ArtifactStaleness, res.Staleness); err != nil {
		return nil, err
	}
	if err := bundle.WriteJSON(ArtifactDecay, res.Decay); err != nil {
		return nil, err
	}

	// The shadow stages are independent of one another: each reads the
	// shared fit and writes its own artifacts.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		res.Penalty = penalty.Simulate(outcomes, res.Decay)
		if err := bundle.WriteJSON(ArtifactPenaltyJSON, res.Penalty); err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := penalty.WriteCSV(&buf, res.Penalty.Rows); err != nil {
			return err
		}
		return bundle.WriteFile(ArtifactPenaltyCSV, buf.Bytes())
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		res.Uncertainty = uncertainty.Assess(outcomes, res.Decay)
		res.WorstCase = worstcase.Rank(outcomes, res.Uncertainty)
		if err := bundle.WriteJSON(ArtifactUncertainty, res.Uncertainty); err != nil {
			return err
		}
		return bundle.WriteJSON(ArtifactWorstCase, res.WorstCase)
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		res.Refusal = refusal.Tune(outcomes, res.Decay)
		return bundle.WriteJSON(ArtifactRefusal, res.Refusal)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := Summary{
		RunID:            runID,
		GeneratedAtUTC:   started.UTC().Format(time.RFC3339),
		Outcomes:         len(outcomes),
		ReasonCodes:      res.Staleness.ReasonCodes,
		StalenessBuckets: len(res.Staleness.Buckets),
		DecayKeys:        res.Decay.Diagnostics.Keys,
		RowsPenalized:    res.Penalty.RowsPenalized,
		WouldRefuse:      res.Uncertainty.WouldRefuse,
		WorstCaseRows:    len(res.WorstCase.Overall),
		BestSafety:       res.Refusal.Overall.Safety,
		DurationMS:       r.nowFunc().Sub(started).Milliseconds(),
	}
	if err := bundle.WriteJSON(ArtifactSummary, summary); err != nil {
		return nil, err
	}

	idx := reports.LoadIndex(reportsRoot)
	if err := idx.Append(reports.CategoryMeasurement, runID); err != nil {
		return nil, err
	}
	if err := reports.SaveIndex(reportsRoot, idx); err != nil {
		return nil, err
	}

	ops.MeasurementSummary(runID, bundleDir, len(outcomes), summary.DurationMS)
	return res, nil
}
