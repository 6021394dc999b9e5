package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/reports"
	"github.com/sells-group/decision-cli/internal/snapshot"
	"github.com/sells-group/decision-cli/internal/store"
)

func putLiveShadowSnapshot(t *testing.T, st store.Store, matchID, domain, source string, data map[string]any, at time.Time) {
	t.Helper()
	payload := map[string]any{
		"match_id":       matchID,
		"domain":         domain,
		"source":         source,
		"fetched_at_utc": snapshot.ISO(at),
		"data":           data,
	}
	env, err := snapshot.NewLiveShadow(payload, at, source, at, nil)
	require.NoError(t, err)
	body, err := snapshot.MarshalStored(env, payload)
	require.NoError(t, err)
	_, err = st.PutSnapshot(context.Background(), store.SnapshotRecord{
		SnapshotID:   env.SnapshotID,
		MatchID:      matchID,
		SnapshotType: snapshot.TypeLiveShadow,
		Source:       source,
		Body:         body,
		CreatedAt:    at,
	})
	require.NoError(t, err)
}

func TestDiffDecisions(t *testing.T) {
	prevConf := 0.8
	nextConf := 0.7
	prev := []model.Decision{
		{Market: model.Market1X2, Kind: model.DecisionPlay, Selection: "HOME", Confidence: &prevConf},
		{Market: model.MarketBTTS, Kind: model.DecisionNoBet},
	}
	next := []model.Decision{
		{Market: model.Market1X2, Kind: model.DecisionPlay, Selection: "AWAY", Confidence: &nextConf},
		{Market: model.MarketOU25, Kind: model.DecisionPlay, Selection: "OVER"},
	}

	changes, compared, deltas := diffDecisions(prev, next)

	assert.Equal(t, 1, compared, "only markets present on both sides pair up")
	assert.Equal(t, 1, changes)
	require.Len(t, deltas, 1)
	assert.InDelta(t, 0.1, deltas[0], 1e-9)
}

func TestDiffDecisions_NoChange(t *testing.T) {
	conf := 0.7
	decisions := []model.Decision{
		{Market: model.Market1X2, Kind: model.DecisionPlay, Selection: "HOME", Confidence: &conf},
	}

	changes, compared, deltas := diffDecisions(decisions, decisions)

	assert.Equal(t, 0, changes)
	assert.Equal(t, 1, compared)
	require.Len(t, deltas, 1)
	assert.Zero(t, deltas[0])
}

func TestConfidenceP95(t *testing.T) {
	assert.Zero(t, confidenceP95(nil))
	assert.Equal(t, 0.4, confidenceP95([]float64{0.4}))
	assert.Equal(t, 0.3, confidenceP95([]float64{0.3, 0.1, 0.2}))

	samples := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}
	assert.Equal(t, 1.0, confidenceP95(samples))
}

func TestRunBurnIn_NoShadowSnapshots(t *testing.T) {
	cfg = testConfig(t)
	st := openTestStore(t)

	_, err := runBurnIn(context.Background(), st, burnInOptions{Connector: "real_provider", DryRun: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONNECTOR_NOT_AVAILABLE")
}

func TestRunBurnIn_DryRun(t *testing.T) {
	cfg = testConfig(t)
	st := openTestStore(t)
	now := time.Now().UTC()

	putDomainSnapshot(t, st, "m-7", "fixtures", "provider_a", map[string]any{
		"home_team_id": "t-1",
		"away_team_id": "t-2",
		"kickoff_utc":  snapshot.ISO(now.Add(24 * time.Hour)),
	}, now.Add(-time.Hour))
	putLiveShadowSnapshot(t, st, "m-7", "fixtures", "real_provider", map[string]any{
		"home_team_id": "t-1",
		"away_team_id": "t-2",
		"kickoff_utc":  snapshot.ISO(now.Add(24 * time.Hour)),
	}, now)

	summary, err := runBurnIn(context.Background(), st, burnInOptions{Connector: "real_provider", DryRun: true})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(summary.RunID, "burn_in_ops_"))
	assert.True(t, summary.DryRun)
	assert.Equal(t, []string{"m-7"}, summary.Matches)
	assert.Equal(t, 1, summary.Analyze.Matches)
	assert.Empty(t, summary.BundleDir, "dry-run writes no bundle")
	assert.Empty(t, summary.Alerts)

	idx := reports.LoadIndex(cfg.Reports.Dir)
	assert.Empty(t, idx.BurnInRuns, "dry-run leaves the index untouched")

	runs, err := st.ListRuns(context.Background(), store.RunFilter{MatchID: "m-7"})
	require.NoError(t, err)
	assert.Empty(t, runs, "dry-run persists no shadow runs")
}

func TestRunBurnIn_WritesBundle(t *testing.T) {
	cfg = testConfig(t)
	st := openTestStore(t)
	now := time.Now().UTC()

	putDomainSnapshot(t, st, "m-8", "fixtures", "provider_a", map[string]any{
		"home_team_id": "t-1",
		"away_team_id": "t-2",
		"kickoff_utc":  snapshot.ISO(now.Add(24 * time.Hour)),
	}, now.Add(-time.Hour))
	putLiveShadowSnapshot(t, st, "m-8", "fixtures", "real_provider", map[string]any{
		"home_team_id": "t-1",
		"away_team_id": "t-2",
		"kickoff_utc":  snapshot.ISO(now.Add(24 * time.Hour)),
	}, now)

	summary, err := runBurnIn(context.Background(), st, burnInOptions{Connector: "real_provider", DryRun: false})
	require.NoError(t, err)

	require.NotEmpty(t, summary.BundleDir)
	for _, name := range []string{artifactBurnInSummary, artifactShadowAnalyze} {
		_, err := os.Stat(filepath.Join(summary.BundleDir, name))
		assert.NoError(t, err, "bundle should contain %s", name)
	}

	idx := reports.LoadIndex(cfg.Reports.Dir)
	assert.Contains(t, idx.BurnInRuns, summary.RunID)
	assert.Empty(t, idx.ActivationRuns, "no activation attempted")

	runs, err := st.ListRuns(context.Background(), store.RunFilter{MatchID: "m-8"})
	require.NoError(t, err)
	assert.Len(t, runs, 1, "shadow run persists when not dry-run")

	outcomes, err := st.ListOutcomes(context.Background(), store.OutcomeFilter{})
	require.NoError(t, err)
	assert.Empty(t, outcomes, "shadow analyze never seeds outcomes")
}
