package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/decision-cli/internal/activation"
	"github.com/sells-group/decision-cli/internal/decay"
	"github.com/sells-group/decision-cli/internal/delta"
	"github.com/sells-group/decision-cli/internal/engine"
	"github.com/sells-group/decision-cli/internal/evidence"
	"github.com/sells-group/decision-cli/internal/guardrails"
	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/ops"
	"github.com/sells-group/decision-cli/internal/replay"
	"github.com/sells-group/decision-cli/internal/reports"
	"github.com/sells-group/decision-cli/internal/resolver"
	"github.com/sells-group/decision-cli/internal/safety"
	"github.com/sells-group/decision-cli/internal/snapshot"
	"github.com/sells-group/decision-cli/internal/staleness"
	"github.com/sells-group/decision-cli/internal/store"
)

// Burn-in bundle artifacts beyond the shared delta/replay/audit names.
const (
	artifactBurnInSummary = "burn_in_summary.json"
	artifactShadowAnalyze = "shadow_analyze_report.json"
)

var (
	burnInConnector     string
	burnInMatches       []string
	burnInActivate      bool
	burnInDryRun        bool
	burnInApprovalToken string
	burnInPolicyPin     string
)

var burninCmd = &cobra.Command{
	Use:   "burnin",
	Short: "Run the consolidated daily burn-in op",
	Long: `Burnin compares recorded against live-shadow snapshots, re-analyzes
the shadow matches, checks the burn-in guardrails and, when requested
and permitted by the safety posture, runs a capped activation batch.
Dry-run is the default and writes nothing; guardrail alerts always
exit non-zero so a scheduler notices.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("burnin"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		summary, err := runBurnIn(ctx, st, burnInOptions{
			Connector:     burnInConnector,
			Matches:       burnInMatches,
			Activate:      burnInActivate,
			DryRun:        burnInDryRun,
			ApprovalToken: burnInApprovalToken,
			PolicyPin:     burnInPolicyPin,
		})
		if err != nil {
			return err
		}

		if err := printJSON(os.Stdout, summary); err != nil {
			return err
		}
		if n := len(summary.Alerts); n > 0 {
			return eris.Errorf("burn-in: %d guardrail alert(s) fired", n)
		}
		return nil
	},
}

type burnInOptions struct {
	Connector     string
	Matches       []string
	Activate      bool
	DryRun        bool
	ApprovalToken string
	PolicyPin     string
}

type burnInSummary struct {
	RunID        string                   `json:"run_id"`
	CreatedAtUTC string                   `json:"created_at_utc"`
	Connector    string                   `json:"connector"`
	DryRun       bool                     `json:"dry_run"`
	Matches      []string                 `json:"matches"`
	Compare      delta.CompareReport      `json:"compare"`
	Analyze      burnInAnalyze            `json:"analyze"`
	Robustness   replay.RobustnessSummary `json:"late_data_robustness"`
	Activation   *burnInActivation        `json:"activation,omitempty"`
	Alerts       []guardrails.Alert       `json:"alerts,omitempty"`
	BundleDir    string                   `json:"bundle_dir,omitempty"`
}

type burnInAnalyze struct {
	Matches            int     `json:"matches"`
	OK                 int     `json:"ok"`
	NoPrediction       int     `json:"no_prediction"`
	Compared           int     `json:"compared"`
	PickChanges        int     `json:"pick_changes"`
	PickChangeRate     float64 `json:"pick_change_rate"`
	ConfidenceDeltaP95 float64 `json:"confidence_delta_p95"`
}

type burnInActivation struct {
	Batch    activation.Verdict `json:"batch"`
	Selected []string           `json:"selected,omitempty"`
	Allowed  int                `json:"allowed"`
	Denied   int                `json:"denied"`
}

type shadowAnalyzeReport struct {
	RunID        string              `json:"run_id"`
	CreatedAtUTC string              `json:"created_at_utc"`
	Connector    string              `json:"connector"`
	Runs         []model.AnalysisRun `json:"runs"`
}

// runBurnIn wraps the phases in run start/end events.
func runBurnIn(ctx context.Context, st store.Store, opts burnInOptions) (*burnInSummary, error) {
	now := time.Now().UTC()
	runID := activation.NewBurnInRunID(now)
	started := ops.RunStart(runID, opts.Connector, "")

	summary, err := burnInPhases(ctx, st, runID, now, opts)
	if err != nil {
		ops.RunEnd(runID, opts.Connector, "", started, err.Error())
		return nil, err
	}
	ops.RunEnd(runID, opts.Connector, "", started, "")
	return summary, nil
}

// burnInPhases runs compare, shadow analyze, guardrails, late-data
// robustness and the optional activation batch, then writes the bundle.
// The posture is read once here and passed down.
func burnInPhases(ctx context.Context, st store.Store, runID string, now time.Time, opts burnInOptions) (*burnInSummary, error) {
	posture := safety.FromEnv()
	if !posture.LiveIOAllowed {
		ops.LiveBlockedByFlag("live capture disabled; burn-in runs over stored shadow snapshots")
	}

	rows, err := st.ListSnapshots(ctx, store.SnapshotFilter{})
	if err != nil {
		return nil, err
	}

	liveMatches := make(map[string]bool)
	liveRows := 0
	for _, rec := range rows {
		if rec.SnapshotType != snapshot.TypeLiveShadow {
			continue
		}
		liveRows++
		if rec.MatchID != "" {
			liveMatches[rec.MatchID] = true
		}
	}
	if liveRows == 0 {
		return nil, eris.Errorf("CONNECTOR_NOT_AVAILABLE: no live shadow snapshots for connector %q", opts.Connector)
	}

	matches := append([]string(nil), opts.Matches...)
	if len(matches) == 0 {
		for id := range liveMatches {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, eris.New("NO_MATCHES: no match ids to burn in")
	}

	compare := delta.Compare(rows, now)

	analyze, runs, err := shadowAnalyze(ctx, st, runID, matches, opts.DryRun)
	if err != nil {
		return nil, err
	}

	outcomes, err := st.ListOutcomes(ctx, store.OutcomeFilter{})
	if err != nil {
		return nil, err
	}
	robustness := replay.ComputeRobustness(outcomes, decay.Fit(staleness.Aggregate(outcomes)))

	liveAlerts := guardrails.Evaluate(posture, guardrails.Metrics{}, guardrails.DefaultPolicy())
	alerts := append(liveAlerts, guardrails.CheckBurnIn(guardrails.BurnInStats{
		LiveIOAlerts:       len(liveAlerts),
		PickChangeRate:     analyze.PickChangeRate,
		ConfidenceDeltaP95: analyze.ConfidenceDeltaP95,
	})...)
	for _, alert := range alerts {
		ops.GuardrailTrigger(alert.Code, alert.Message)
	}

	summary := &burnInSummary{
		RunID:        runID,
		CreatedAtUTC: snapshot.ISO(now),
		Connector:    opts.Connector,
		DryRun:       opts.DryRun,
		Matches:      matches,
		Compare:      compare,
		Analyze:      analyze,
		Robustness:   robustness,
		Alerts:       alerts,
	}

	var audits []activation.AuditRecord
	if opts.Activate && !opts.DryRun {
		if len(alerts) > 0 {
			zap.L().Warn("activation skipped, guardrail alerts active",
				zap.String("run_id", runID), zap.Int("alerts", len(alerts)))
		} else {
			summary.Activation, audits = runActivation(runID, now, posture, matches, runs, opts)
		}
	}

	if !opts.DryRun {
		if err := writeBurnInBundle(runID, summary, runs, audits); err != nil {
			return nil, err
		}
	}

	return summary, nil
}

// shadowAnalyze re-runs the engine over each shadow match and diffs the
// decisions against the previous stored run for the same fixture. Runs
// persist unless dry-run; outcome rows are never seeded here, shadow
// batches feed the bundle, not the measurement history.
func shadowAnalyze(ctx context.Context, st store.Store, runID string, matches []string, dryRun bool) (burnInAnalyze, []model.AnalysisRun, error) {
	agg := evidence.NewAggregator(st, evidenceConfig())
	eng := engine.New(cfg.Engine.MinConfidence)

	stats := burnInAnalyze{Matches: len(matches)}
	var (
		runs   []model.AnalysisRun
		deltas []float64
	)
	for _, matchID := range matches {
		pack, _, err := agg.Build(ctx, matchID)
		if err != nil {
			return burnInAnalyze{}, nil, err
		}

		prev, err := st.ListRuns(ctx, store.RunFilter{MatchID: matchID, Limit: 1})
		if err != nil {
			return burnInAnalyze{}, nil, err
		}

		res := resolver.Resolution{Status: model.ResolveResolved, MatchID: matchID}
		run := eng.Evaluate(fmt.Sprintf("%s_%s", runID, matchID), res, pack, nil)

		if len(prev) > 0 {
			changes, compared, ds := diffDecisions(prev[0].Decisions, run.Decisions)
			stats.PickChanges += changes
			stats.Compared += compared
			deltas = append(deltas, ds...)
		}

		if run.Status == model.RunStatusOK {
			stats.OK++
		} else {
			stats.NoPrediction++
		}

		if !dryRun {
			if err := st.SaveRun(ctx, run); err != nil {
				return burnInAnalyze{}, nil, err
			}
		}
		runs = append(runs, run)
	}

	if stats.Compared > 0 {
		stats.PickChangeRate = math.Round(float64(stats.PickChanges)/float64(stats.Compared)*10000) / 10000
	}
	stats.ConfidenceDeltaP95 = confidenceP95(deltas)
	ops.EvaluationSummary(stats.Matches, stats.OK, nil)
	return stats, runs, nil
}

// diffDecisions pairs decisions by market and counts pick changes plus
// absolute confidence deltas where both sides carry one.
func diffDecisions(prev, next []model.Decision) (changes, compared int, confDeltas []float64) {
	byMarket := make(map[model.Market]model.Decision, len(prev))
	for _, d := range prev {
		byMarket[d.Market] = d
	}
	for _, d := range next {
		old, ok := byMarket[d.Market]
		if !ok {
			continue
		}
		compared++
		if old.Kind != d.Kind || old.Selection != d.Selection {
			changes++
		}
		if old.Confidence != nil && d.Confidence != nil {
			confDeltas = append(confDeltas, math.Abs(*d.Confidence-*old.Confidence))
		}
	}
	return changes, compared, confDeltas
}

// confidenceP95 is the ceil-index p95 over a small sample.
func confidenceP95(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// runActivation runs the capped activation batch: batch gate first, then
// rollout selection, daily budget and the per-decision gate. Every
// verdict lands in the audit trail.
func runActivation(runID string, now time.Time, posture safety.Snapshot, matches []string, runs []model.AnalysisRun, opts burnInOptions) (*burnInActivation, []activation.AuditRecord) {
	gate := activation.NewGate(posture, model.PolicyVersion)

	pin := opts.PolicyPin
	if pin == "" {
		pin = posture.PolicyVersionPin
	}

	batchMatches := matches
	if limit := gate.MatchCap(); len(batchMatches) > limit {
		batchMatches = batchMatches[:limit]
	}

	batch := gate.CheckBatch(activation.BatchRequest{
		Connector:     opts.Connector,
		MatchCount:    len(batchMatches),
		ApprovalToken: opts.ApprovalToken,
		PolicyPin:     pin,
	})
	audits := []activation.AuditRecord{gate.Audit(runID, now, opts.Connector, batch)}
	ops.ActivationAudit(runID, batch.Allowed, batch.State, batch.Reason)

	act := &burnInActivation{Batch: batch}
	if !batch.Allowed {
		return act, audits
	}

	runsByMatch := make(map[string]model.AnalysisRun, len(runs))
	for _, run := range runs {
		runsByMatch[run.MatchID] = run
	}

	rollout := activation.SelectRollout(batchMatches, posture.RolloutPct)
	remaining := gate.DailyRemaining(reports.LoadIndex(cfg.Reports.Dir), now)

	for _, matchID := range batchMatches {
		if !rollout[matchID] {
			continue
		}
		act.Selected = append(act.Selected, matchID)

		run, ok := runsByMatch[matchID]
		if !ok {
			continue
		}
		for _, d := range run.Decisions {
			if d.Kind != model.DecisionPlay || d.Confidence == nil {
				continue
			}

			var v activation.Verdict
			if remaining <= 0 {
				v = activation.Verdict{
					State:  activation.StateShadowOnly,
					Code:   activation.CodeActivationDenied,
					Reason: "daily activation budget exhausted",
				}
			} else {
				v = gate.CheckDecision(activation.DecisionRequest{
					Connector:   opts.Connector,
					Market:      d.Market,
					Confidence:  *d.Confidence,
					PolicyFloor: cfg.Engine.MinConfidence,
				})
			}

			rec := gate.Audit(runID, now, opts.Connector, v)
			rec.MatchID = matchID
			rec.Market = d.Market
			rec.Confidence = *d.Confidence
			audits = append(audits, rec)
			ops.ActivationAudit(runID, v.Allowed, v.State, v.Reason)

			if v.Allowed {
				act.Allowed++
				remaining--
			} else {
				act.Denied++
			}
		}
	}
	return act, audits
}

// writeBurnInBundle writes the artifacts and index entries for one
// burn-in run. The run joins the activation category only when at least
// one decision actually activated, so the daily budget counts real
// activations.
func writeBurnInBundle(runID string, summary *burnInSummary, runs []model.AnalysisRun, audits []activation.AuditRecord) error {
	dir := filepath.Join(reports.BundleDir(cfg.Reports.Dir, reports.CategoryBurnIn), runID)
	bundle, err := reports.NewBundle(dir)
	if err != nil {
		return err
	}
	summary.BundleDir = dir

	if err := bundle.WriteJSON(artifactBurnInSummary, summary); err != nil {
		return err
	}
	if err := bundle.WriteJSON(delta.ArtifactCompare, summary.Compare); err != nil {
		return err
	}
	if err := bundle.WriteJSON(replay.ArtifactLateData, summary.Robustness); err != nil {
		return err
	}
	if err := bundle.WriteJSON(artifactShadowAnalyze, shadowAnalyzeReport{
		RunID:        runID,
		CreatedAtUTC: summary.CreatedAtUTC,
		Connector:    summary.Connector,
		Runs:         runs,
	}); err != nil {
		return err
	}
	if len(audits) > 0 {
		if err := bundle.WriteJSON(activation.ArtifactAudit, audits); err != nil {
			return err
		}
	}

	idx := reports.LoadIndex(cfg.Reports.Dir)
	if err := idx.Append(reports.CategoryBurnIn, runID); err != nil {
		return err
	}
	if summary.Activation != nil && summary.Activation.Allowed > 0 {
		if err := idx.Append(reports.CategoryActivation, runID); err != nil {
			return err
		}
	}
	if err := reports.SaveIndex(cfg.Reports.Dir, idx); err != nil {
		return err
	}
	if _, err := reports.Prune(cfg.Reports.Dir, cfg.Reports.MaxBundles); err != nil {
		zap.L().Warn("prune report bundles", zap.Error(err))
	}
	return nil
}

func init() {
	burninCmd.Flags().StringVar(&burnInConnector, "connector", activation.DefaultBurnInConnector, "live connector under burn-in")
	burninCmd.Flags().StringSliceVar(&burnInMatches, "matches", nil, "match ids to burn in (default every match with shadow snapshots)")
	burninCmd.Flags().BoolVar(&burnInActivate, "activate", false, "attempt the capped activation batch")
	burninCmd.Flags().BoolVar(&burnInDryRun, "dry-run", true, "compute everything, write nothing")
	burninCmd.Flags().StringVar(&burnInApprovalToken, "approval-token", "", "operator approval token for burn-in activation")
	burninCmd.Flags().StringVar(&burnInPolicyPin, "policy-pin", "", "policy version pin (default from posture)")
	rootCmd.AddCommand(burninCmd)
}
