package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/store"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 3, 7, 14, 30, 0, 0, time.UTC)
	runs := []model.AnalysisRun{
		{
			ID:            "abc12345-6789-0000-0000-000000000000",
			MatchID:       "m-100",
			ResolveStatus: model.ResolveResolved,
			Status:        model.RunStatusOK,
			Counts: map[model.DecisionKind]int{
				model.DecisionPlay:  2,
				model.DecisionNoBet: 1,
			},
			CreatedAt: now,
		},
		{
			ID:            "def12345-6789-0000-0000-000000000000",
			ResolveStatus: model.ResolveNotFound,
			Status:        model.RunStatusNoPrediction,
			Counts: map[model.DecisionKind]int{
				model.DecisionNoPrediction: 3,
			},
			CreatedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "MATCH")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "m-100")
	assert.Contains(t, output, "OK")
	assert.Contains(t, output, "def12345")
	assert.Contains(t, output, "NO_PREDICTION")
	assert.Contains(t, output, "2026-03-07 14:30")
}

func TestFormatRunsList_UnresolvedRun(t *testing.T) {
	runs := []model.AnalysisRun{
		{
			ID:            "abc12345-6789-0000-0000-000000000000",
			ResolveStatus: model.ResolveAmbiguous,
			Status:        model.RunStatusNoPrediction,
			CreatedAt:     time.Date(2026, 3, 7, 14, 30, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "AMBIGUOUS")
	assert.Contains(t, output, "-", "missing match id renders as a dash")
}

func TestComputeRunStats(t *testing.T) {
	runs := []model.AnalysisRun{
		{
			Status: model.RunStatusOK,
			Counts: map[model.DecisionKind]int{
				model.DecisionPlay:  1,
				model.DecisionNoBet: 2,
			},
		},
		{
			Status: model.RunStatusNoPrediction,
			Counts: map[model.DecisionKind]int{
				model.DecisionNoPrediction: 3,
			},
		},
	}

	s := computeRunStats(runs)

	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.OK)
	assert.Equal(t, 1, s.NoPrediction)
	assert.Equal(t, 1, s.Play)
	assert.Equal(t, 2, s.NoBet)
	assert.Equal(t, 3, s.Refused)
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, runStats{Total: 5, OK: 3, NoPrediction: 2, Play: 4, NoBet: 6, Refused: 5})

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "5")
	assert.Contains(t, output, "Play:")
	assert.Contains(t, output, "Refused:")
}

func TestParseOutcomeResult(t *testing.T) {
	result, err := parseOutcomeResult("SUCCESS")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, result)

	result, err = parseOutcomeResult("failure")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailure, result)

	result, err = parseOutcomeResult("Void")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeVoid, result)

	_, err = parseOutcomeResult("PENDING")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid result")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestRunsSettle_ResolvesOutcome(t *testing.T) {
	cfg = testConfig(t)
	st := openTestStore(t)
	ctx := context.Background()

	conf := 0.7
	require.NoError(t, st.SaveOutcomes(ctx, []model.Outcome{{
		RunID:      "run-1",
		FixtureID:  "m-1",
		Market:     model.Market1X2,
		ReasonCode: "OK",
		Selection:  "HOME",
		Result:     model.OutcomePending,
		Confidence: conf,
		DecidedAt:  time.Now().UTC(),
	}}))

	runsSettleCmd.SetContext(context.Background())
	defer runsSettleCmd.SetContext(context.TODO())

	err := runsSettleCmd.RunE(runsSettleCmd, []string{"run-1", "m-1", "1X2", "success"})
	require.NoError(t, err)

	outcomes, err := st.ListOutcomes(ctx, store.OutcomeFilter{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, model.OutcomeSuccess, outcomes[0].Result)
	require.NotNil(t, outcomes[0].ResolvedAt)
}

func TestRunsSettle_UnknownOutcome(t *testing.T) {
	cfg = testConfig(t)
	openTestStore(t)

	runsSettleCmd.SetContext(context.Background())
	defer runsSettleCmd.SetContext(context.TODO())

	err := runsSettleCmd.RunE(runsSettleCmd, []string{"missing", "m-1", "1X2", "success"})
	require.Error(t, err)
}

func TestRunsSettle_InvalidMarket(t *testing.T) {
	cfg = testConfig(t)

	err := runsSettleCmd.RunE(runsSettleCmd, []string{"run-1", "m-1", "HANDICAP", "success"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported market")
}
