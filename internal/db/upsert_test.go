package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcomeUpsert() UpsertConfig {
	return UpsertConfig{
		Table:        "outcomes",
		Columns:      []string{"run_id", "fixture_id", "market", "result"},
		ConflictKeys: []string{"run_id", "fixture_id", "market"},
	}
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, outcomeUpsert(), nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_ConfigErrors(t *testing.T) {
	rows := [][]any{{"r1", "f1", "1X2", "HOME"}}

	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{
			name: "missing table",
			cfg:  UpsertConfig{Columns: []string{"run_id"}, ConflictKeys: []string{"run_id"}},
			want: "table is required",
		},
		{
			name: "missing columns",
			cfg:  UpsertConfig{Table: "outcomes", ConflictKeys: []string{"run_id"}},
			want: "no columns",
		},
		{
			name: "missing conflict keys",
			cfg:  UpsertConfig{Table: "outcomes", Columns: []string{"run_id"}},
			want: "no conflict keys",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BulkUpsert(context.TODO(), nil, tt.cfg, rows)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBulkUpsert_StagedMerge(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := outcomeUpsert()
	rows := [][]any{
		{"r1", "f1", "1X2", "HOME"},
		{"r1", "f2", "BTTS", "YES"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "staging_outcomes" \(LIKE "outcomes" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"staging_outcomes"}, cfg.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "outcomes" .+ FROM "staging_outcomes" ON CONFLICT .+ DO UPDATE SET "result" = EXCLUDED\."result"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback() // deferred rollback after commit is a no-op

	n, err := BulkUpsert(context.Background(), mock, cfg, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_MergeFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := outcomeUpsert()
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"staging_outcomes"}, cfg.Columns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "outcomes"`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, cfg, [][]any{{"r1", "f1", "1X2", "HOME"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConfig_MergeSQL(t *testing.T) {
	t.Run("derives update columns from non-keys", func(t *testing.T) {
		got := outcomeUpsert().mergeSQL("staging_outcomes")
		assert.Equal(t,
			`INSERT INTO "outcomes" ("run_id", "fixture_id", "market", "result") `+
				`SELECT "run_id", "fixture_id", "market", "result" FROM "staging_outcomes" `+
				`ON CONFLICT ("run_id", "fixture_id", "market") DO UPDATE SET "result" = EXCLUDED."result"`,
			got)
	})

	t.Run("explicit update columns win", func(t *testing.T) {
		cfg := outcomeUpsert()
		cfg.Columns = append(cfg.Columns, "resolved_at")
		cfg.UpdateCols = []string{"resolved_at"}
		got := cfg.mergeSQL("staging_outcomes")
		assert.Contains(t, got, `DO UPDATE SET "resolved_at" = EXCLUDED."resolved_at"`)
		assert.NotContains(t, got, `"result" = EXCLUDED`)
	})

	t.Run("all key columns degrades to do nothing", func(t *testing.T) {
		cfg := UpsertConfig{
			Table:        "snapshots",
			Columns:      []string{"snapshot_id"},
			ConflictKeys: []string{"snapshot_id"},
		}
		got := cfg.mergeSQL("staging_snapshots")
		assert.Contains(t, got, "DO NOTHING")
		assert.NotContains(t, got, "DO UPDATE")
	})
}

func TestUpsertConfig_StagingTable(t *testing.T) {
	assert.Equal(t, "staging_outcomes", UpsertConfig{Table: "outcomes"}.stagingTable())
	assert.Equal(t, "staging_public_outcomes", UpsertConfig{Table: "public.outcomes"}.stagingTable())
}

func TestQuoteTable(t *testing.T) {
	assert.Equal(t, `"outcomes"`, quoteTable("outcomes"))
	assert.Equal(t, `"public"."outcomes"`, quoteTable("public.outcomes"))
}

func TestIdentList(t *testing.T) {
	assert.Equal(t, `"run_id", "market", "result"`, identList([]string{"run_id", "market", "result"}))
}
