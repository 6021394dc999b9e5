package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/decision-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT body FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSnapshot_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT snapshot_id, match_id, snapshot_type, source, body, created_at FROM snapshots`).
		WithArgs("unknown-sum").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.GetSnapshot(context.Background(), "unknown-sum")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestSnapshot_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT snapshot_id, match_id, snapshot_type, source, body, created_at FROM snapshots`).
		WithArgs("m1", "recorded").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.LatestSnapshot(context.Background(), "m1", "recorded")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutSnapshot_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// ON CONFLICT DO NOTHING reports zero rows on a duplicate.
	mock.ExpectExec(`ON CONFLICT \(snapshot_id\) DO NOTHING`).
		WithArgs("sum-1", "m1", "recorded", "recorded_provider", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.PutSnapshot(context.Background(), SnapshotRecord{
		SnapshotID:   "sum-1",
		MatchID:      "m1",
		SnapshotType: "recorded",
		Source:       "recorded_provider",
		Body:         []byte(`{}`),
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRun_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs .+ ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("run-1", "m1", "OK", "RESOLVED", model.PolicyVersion, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveRun(context.Background(), model.AnalysisRun{
		ID:            "run-1",
		MatchID:       "m1",
		ResolveStatus: model.ResolveResolved,
		Status:        model.RunStatusOK,
		PolicyVersion: model.PolicyVersion,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveOutcome_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE outcomes SET result = \$1`).
		WithArgs("SUCCESS", pgxmock.AnyArg(), "run-x", "m1", "1X2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.ResolveOutcome(context.Background(), "run-x", "m1", model.Market1X2, model.OutcomeSuccess, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outcome not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveOutcomes_SmallBatchTx(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO outcomes`).
		WithArgs("run-1", "m1", "1X2", "H2H_USED", "HOME", "PENDING", 0.71,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "recorded").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback() // deferred rollback after commit is a no-op

	err := s.SaveOutcomes(context.Background(), []model.Outcome{{
		RunID:      "run-1",
		FixtureID:  "m1",
		Market:     model.Market1X2,
		ReasonCode: "H2H_USED",
		Selection:  model.SelectionHome,
		Result:     model.OutcomePending,
		Confidence: 0.71,
		DecidedAt:  time.Now(),
		SnapshotIDs: []string{
			"sum-1",
		},
		SnapshotType: "recorded",
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveOutcomes_BulkBatchStaged(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "staging_outcomes"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"staging_outcomes"}, outcomeColumns).
		WillReturnResult(int64(bulkUpsertThreshold))
	mock.ExpectExec(`INSERT INTO "outcomes" .+ ON CONFLICT .+ DO UPDATE SET "result" = EXCLUDED\."result", "resolved_at" = EXCLUDED\."resolved_at"`).
		WillReturnResult(pgxmock.NewResult("INSERT", int64(bulkUpsertThreshold)))
	mock.ExpectCommit()
	mock.ExpectRollback()

	outcomes := make([]model.Outcome, bulkUpsertThreshold)
	for i := range outcomes {
		outcomes[i] = model.Outcome{
			RunID:        "run-1",
			FixtureID:    fmt.Sprintf("m%d", i),
			Market:       model.Market1X2,
			ReasonCode:   "H2H_USED",
			Selection:    model.SelectionHome,
			Result:       model.OutcomePending,
			Confidence:   0.7,
			DecidedAt:    time.Now(),
			SnapshotType: "recorded",
		}
	}

	err := s.SaveOutcomes(context.Background(), outcomes)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountOutcomes(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM outcomes`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	count, err := s.CountOutcomes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
