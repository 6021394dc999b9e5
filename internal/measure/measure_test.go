package measure

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/reports"
	"github.com/sells-group/decision-cli/internal/store"
)

var measureNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	outcomes []model.Outcome
	err      error
}

func (f *fakeSource) ListOutcomes(_ context.Context, _ store.OutcomeFilter) ([]model.Outcome, error) {
	return f.outcomes, f.err
}

func testRunner(src *fakeSource) *Runner {
	r := NewRunner(src)
	r.nowFunc = func() time.Time { return measureNow }
	return r
}

func measureOutcome(fixture string, market model.Market, reason string, result model.OutcomeResult, conf float64, age time.Duration) model.Outcome {
	return model.Outcome{
		RunID:              "run-" + fixture,
		FixtureID:          fixture,
		Market:             market,
		ReasonCode:         reason,
		Result:             result,
		Confidence:         conf,
		EvidenceObservedAt: measureNow.Add(-age),
		DecidedAt:          measureNow,
	}
}

func sampleOutcomes() []model.Outcome {
	return []model.Outcome{
		measureOutcome("m-1", model.Market1X2, "TOP_SEP", model.OutcomeSuccess, 0.9, 10*time.Minute),
		measureOutcome("m-2", model.Market1X2, "TOP_SEP", model.OutcomeFailure, 0.8, 10*time.Minute),
		measureOutcome("m-3", model.MarketOU25, "XG_PROXY", model.OutcomeFailure, 0.3, 96*time.Hour),
		measureOutcome("m-4", model.MarketBTTS, "BTTS_TREND", model.OutcomeVoid, 0.7, 3*time.Hour),
	}
}

func TestNewRunID_Format(t *testing.T) {
	id := NewRunID(measureNow)

	assert.True(t, strings.HasPrefix(id, "measurement_20250301T120000Z_"), id)
	assert.Len(t, id, len("measurement_20250301T120000Z_")+8)

	assert.NotEqual(t, id, NewRunID(measureNow))
}

func TestRun_WritesAllArtifacts(t *testing.T) {
	root := t.TempDir()
	res, err := testRunner(&fakeSource{outcomes: sampleOutcomes()}).Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Outcomes)
	assert.Equal(t, filepath.Join(root, "measurement", res.RunID), res.BundleDir)

	for _, name := range []string{
		ArtifactStaleness,
		ArtifactDecay,
		ArtifactPenaltyJSON,
		ArtifactPenaltyCSV,
		ArtifactUncertainty,
		ArtifactWorstCase,
		ArtifactRefusal,
		ArtifactSummary,
	} {
		_, statErr := os.Stat(filepath.Join(res.BundleDir, name))
		assert.NoError(t, statErr, "artifact %s", name)
	}

	idx := reports.LoadIndex(root)
	assert.Equal(t, []string{res.RunID}, idx.MeasurementRuns)
	assert.Equal(t, res.RunID, idx.LatestMeasurementRunID)
}

func TestRun_ReportsPopulated(t *testing.T) {
	res, err := testRunner(&fakeSource{outcomes: sampleOutcomes()}).Run(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Staleness.TotalOutcomes)
	assert.Equal(t, 3, res.Staleness.ReasonCodes)
	assert.Equal(t, 3, res.Decay.Diagnostics.Keys)
	assert.Equal(t, 4, res.Penalty.TotalRows)
	assert.Equal(t, 4, res.Uncertainty.TotalDecisions)
	assert.Equal(t, 2, res.WorstCase.TotalFailures)
	assert.Len(t, res.Refusal.Grid, 68)
}

func TestRun_SummaryContents(t *testing.T) {
	res, err := testRunner(&fakeSource{outcomes: sampleOutcomes()}).Run(context.Background(), t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(res.BundleDir, ArtifactSummary))
	require.NoError(t, err)

	var summary Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, res.RunID, summary.RunID)
	assert.Equal(t, "2025-03-01T12:00:00Z", summary.GeneratedAtUTC)
	assert.Equal(t, 4, summary.Outcomes)
	assert.Equal(t, 3, summary.ReasonCodes)
	assert.Equal(t, len(res.Staleness.Buckets), summary.StalenessBuckets)
	assert.Equal(t, res.Refusal.Overall.Safety, summary.BestSafety)
	assert.Equal(t, int64(0), summary.DurationMS)
}

func TestRun_EmptyHistoryStillWritesBundle(t *testing.T) {
	root := t.TempDir()
	res, err := testRunner(&fakeSource{}).Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Outcomes)
	_, statErr := os.Stat(filepath.Join(res.BundleDir, ArtifactSummary))
	assert.NoError(t, statErr)

	idx := reports.LoadIndex(root)
	assert.Equal(t, res.RunID, idx.LatestMeasurementRunID)
}

func TestRun_ListOutcomesError(t *testing.T) {
	_, err := testRunner(&fakeSource{err: eris.New("db down")}).Run(context.Background(), t.TempDir())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "measure: list outcomes")
}

func TestRun_PreservesOtherIndexCategories(t *testing.T) {
	root := t.TempDir()
	var idx reports.Index
	require.NoError(t, idx.Append(reports.CategoryRuns, "run-9"))
	require.NoError(t, reports.SaveIndex(root, idx))

	res, err := testRunner(&fakeSource{outcomes: sampleOutcomes()}).Run(context.Background(), root)
	require.NoError(t, err)

	got := reports.LoadIndex(root)
	assert.Equal(t, []string{"run-9"}, got.Runs)
	assert.Equal(t, []string{res.RunID}, got.MeasurementRuns)
}
