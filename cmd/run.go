package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/decision-cli/internal/activation"
	"github.com/sells-group/decision-cli/internal/engine"
	"github.com/sells-group/decision-cli/internal/evidence"
	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/ops"
	"github.com/sells-group/decision-cli/internal/reports"
	"github.com/sells-group/decision-cli/internal/resolver"
	"github.com/sells-group/decision-cli/internal/snapshot"
	"github.com/sells-group/decision-cli/internal/store"
)

var (
	runHome    string
	runAway    string
	runKickoff string
	runMarkets []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Resolve a fixture, aggregate evidence and run the decision engine",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		markets, err := parseMarkets(runMarkets)
		if err != nil {
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

		reg, err := resolver.LoadRegistry(cfg.Resolver.RegistryPath)
		if err != nil {
			return err
		}

		q, err := buildQuery(runHome, runAway, runKickoff, cfg.Resolver.WindowHours)
		if err != nil {
			return err
		}
		res := resolver.New(reg).Resolve(q)

		runID := uuid.NewString()
		started := ops.RunStart(runID, activation.DefaultConnector, res.MatchID)

		run, err := executeRun(ctx, st, runID, res, markets)
		if err != nil {
			ops.RunEnd(runID, activation.DefaultConnector, res.MatchID, started, err.Error())
			return err
		}
		ops.RunEnd(runID, activation.DefaultConnector, res.MatchID, started, "")

		return printJSON(os.Stdout, run)
	},
}

// executeRun drives the offline pipeline for one resolved query: evidence
// aggregation, pack storage, engine evaluation, run and outcome persistence
// and the run index entry. The pack is only built for resolved fixtures;
// the engine refuses on resolver status before touching evidence.
func executeRun(ctx context.Context, st store.Store, runID string, res resolver.Resolution, markets []model.Market) (model.AnalysisRun, error) {
	var (
		pack    *model.EvidencePack
		snapIDs []string
	)
	if res.Status == model.ResolveResolved {
		var err error
		pack, snapIDs, err = evidence.NewAggregator(st, evidenceConfig()).Build(ctx, res.MatchID)
		if err != nil {
			return model.AnalysisRun{}, err
		}
		if err := storePack(ctx, st, pack); err != nil {
			return model.AnalysisRun{}, err
		}
	}

	run := engine.New(cfg.Engine.MinConfidence).Evaluate(runID, res, pack, markets)

	if err := st.SaveRun(ctx, run); err != nil {
		return model.AnalysisRun{}, err
	}
	if err := seedOutcomes(ctx, st, run, snapIDs); err != nil {
		return model.AnalysisRun{}, err
	}

	idx := reports.LoadIndex(cfg.Reports.Dir)
	if err := idx.Append(reports.CategoryRuns, run.ID); err != nil {
		return model.AnalysisRun{}, err
	}
	if err := reports.SaveIndex(cfg.Reports.Dir, idx); err != nil {
		zap.L().Warn("save run index", zap.Error(err))
	}

	return run, nil
}

// evidenceConfig maps app config onto the aggregator defaults.
func evidenceConfig() evidence.Config {
	ecfg := evidence.DefaultConfig()
	ecfg.FreshnessWindow = time.Duration(cfg.Evidence.FreshnessWindowHours) * time.Hour
	ecfg.NumericTolerance = cfg.Evidence.NumericTolerance
	for domain, spec := range ecfg.Domains {
		if cfg.Evidence.MinSources > spec.MinSources {
			spec.MinSources = cfg.Evidence.MinSources
			ecfg.Domains[domain] = spec
		}
	}
	return ecfg
}

// storePack persists the aggregated pack as a content-addressed snapshot.
// Identical pack payloads collapse to one row, so re-running over unchanged
// evidence writes nothing.
func storePack(ctx context.Context, st store.Store, pack *model.EvidencePack) error {
	raw, err := json.Marshal(pack)
	if err != nil {
		return eris.Wrap(err, "marshal evidence pack")
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return eris.Wrap(err, "canonicalize evidence pack")
	}

	env, err := snapshot.NewEvidencePack(payload, pack.CapturedAtUTC)
	if err != nil {
		return err
	}
	body, err := snapshot.MarshalStored(env, payload)
	if err != nil {
		return err
	}

	_, err = st.PutSnapshot(ctx, store.SnapshotRecord{
		SnapshotID:   env.SnapshotID,
		MatchID:      pack.MatchID,
		SnapshotType: snapshot.TypeEvidencePack,
		Source:       env.Source.Name,
		Body:         body,
		CreatedAt:    pack.CapturedAtUTC,
	})
	return err
}

// seedOutcomes writes one PENDING outcome row per decision so the
// measurement subsystem can settle and band them later. The evidence
// observation time comes from the newest recorded snapshot's envelope.
// Unresolved runs have no fixture to settle against and seed nothing.
func seedOutcomes(ctx context.Context, st store.Store, run model.AnalysisRun, snapIDs []string) error {
	if run.MatchID == "" || len(run.Decisions) == 0 {
		return nil
	}

	observedAt := evidenceObservedAt(ctx, st, run.MatchID)
	outcomes := make([]model.Outcome, 0, len(run.Decisions))
	for _, d := range run.Decisions {
		o := model.Outcome{
			RunID:              run.ID,
			FixtureID:          run.MatchID,
			Market:             d.Market,
			ReasonCode:         engine.PrimaryReasonCode(d),
			Selection:          d.Selection,
			Result:             model.OutcomePending,
			EvidenceObservedAt: observedAt,
			DecidedAt:          run.CreatedAt,
			SnapshotIDs:        snapIDs,
			SnapshotType:       snapshot.TypeRecorded,
		}
		if d.Confidence != nil {
			o.Confidence = *d.Confidence
		}
		outcomes = append(outcomes, o)
	}
	return st.SaveOutcomes(ctx, outcomes)
}

// evidenceObservedAt reads the newest recorded snapshot's envelope for the
// observation timestamp. Zero when the match has no recorded evidence.
func evidenceObservedAt(ctx context.Context, st store.Store, matchID string) time.Time {
	if matchID == "" {
		return time.Time{}
	}
	rec, err := st.LatestSnapshot(ctx, matchID, snapshot.TypeRecorded)
	if err != nil || rec == nil {
		return time.Time{}
	}
	env, _ := snapshot.ParseStored(rec.Body, rec.CreatedAt, snapshot.ParseCallbacks{})
	if t, err := time.Parse(time.RFC3339, env.ObservedAtUTC); err == nil {
		return t.UTC()
	}
	return rec.CreatedAt.UTC()
}

// parseMarkets validates the --markets flag. Empty means the engine's full
// supported set.
func parseMarkets(names []string) ([]model.Market, error) {
	if len(names) == 0 {
		return nil, nil
	}
	markets := make([]model.Market, 0, len(names))
	for _, name := range names {
		m := model.Market(name)
		if !m.IsSupported() {
			return nil, eris.Errorf("unsupported market %q", name)
		}
		markets = append(markets, m)
	}
	return markets, nil
}

var analyzeCmd = &cobra.Command{
	Use:    "analyze",
	Short:  "Removed; use run",
	Hidden: true,
	RunE: func(*cobra.Command, []string) error {
		return engine.ErrDeprecatedAnalyze
	},
}

func init() {
	runCmd.Flags().StringVar(&runHome, "home", "", "home team name (required)")
	runCmd.Flags().StringVar(&runAway, "away", "", "away team name (required)")
	runCmd.Flags().StringVar(&runKickoff, "kickoff", "", "kickoff hint, RFC3339")
	runCmd.Flags().StringSliceVar(&runMarkets, "markets", nil, "markets to evaluate (default all supported)")
	_ = runCmd.MarkFlagRequired("home")
	_ = runCmd.MarkFlagRequired("away")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(analyzeCmd)
}
