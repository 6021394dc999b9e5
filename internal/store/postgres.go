package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/decision-cli/internal/db"
	"github.com/sells-group/decision-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// bulkUpsertThreshold is the outcome batch size above which SaveOutcomes
// switches from per-row inserts to a COPY-based bulk upsert.
const bulkUpsertThreshold = 50

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"put_snapshot":    `INSERT INTO snapshots (snapshot_id, match_id, snapshot_type, source, body, created_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (snapshot_id) DO NOTHING`,
	"get_snapshot":    `SELECT snapshot_id, match_id, snapshot_type, source, body, created_at FROM snapshots WHERE snapshot_id = $1`,
	"latest_snapshot": `SELECT snapshot_id, match_id, snapshot_type, source, body, created_at FROM snapshots WHERE match_id = $1 AND snapshot_type = $2 ORDER BY created_at DESC, snapshot_id LIMIT 1`,
	"get_run":         `SELECT body FROM runs WHERE id = $1`,
	"resolve_outcome": `UPDATE outcomes SET result = $1, resolved_at = $2 WHERE run_id = $3 AND fixture_id = $4 AND market = $5`,
	"count_outcomes":  `SELECT COUNT(*) FROM outcomes`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems that
// need direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	snapshot_id   TEXT PRIMARY KEY,
	match_id      TEXT NOT NULL,
	snapshot_type TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	body          JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	match_id       TEXT NOT NULL,
	status         TEXT NOT NULL,
	resolve_status TEXT NOT NULL,
	policy_version TEXT NOT NULL,
	body           JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS outcomes (
	run_id               TEXT NOT NULL,
	fixture_id           TEXT NOT NULL,
	market               TEXT NOT NULL,
	reason_code          TEXT NOT NULL DEFAULT '',
	selection            TEXT NOT NULL DEFAULT '',
	result               TEXT NOT NULL DEFAULT 'PENDING',
	confidence           DOUBLE PRECISION NOT NULL DEFAULT 0,
	evidence_observed_at TIMESTAMPTZ,
	decided_at           TIMESTAMPTZ NOT NULL,
	resolved_at          TIMESTAMPTZ,
	snapshot_ids         JSONB NOT NULL DEFAULT '[]',
	snapshot_type        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, fixture_id, market)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_match ON snapshots(match_id, snapshot_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_match ON runs(match_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_outcomes_market ON outcomes(market);
CREATE INDEX IF NOT EXISTS idx_outcomes_result ON outcomes(result);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) PutSnapshot(ctx context.Context, rec SnapshotRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO snapshots (snapshot_id, match_id, snapshot_type, source, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (snapshot_id) DO NOTHING`,
		rec.SnapshotID, rec.MatchID, rec.SnapshotType, rec.Source, rec.Body, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: put snapshot %s", rec.SnapshotID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, snapshotID string) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot_id, match_id, snapshot_type, source, body, created_at FROM snapshots WHERE snapshot_id = $1`,
		snapshotID,
	).Scan(&rec.SnapshotID, &rec.MatchID, &rec.SnapshotType, &rec.Source, &rec.Body, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get snapshot %s", snapshotID)
	}
	return &rec, nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, matchID, snapshotType string) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot_id, match_id, snapshot_type, source, body, created_at FROM snapshots
		 WHERE match_id = $1 AND snapshot_type = $2
		 ORDER BY created_at DESC, snapshot_id LIMIT 1`,
		matchID, snapshotType,
	).Scan(&rec.SnapshotID, &rec.MatchID, &rec.SnapshotType, &rec.Source, &rec.Body, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest snapshot")
	}
	return &rec, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]SnapshotRecord, error) {
	query := `SELECT snapshot_id, match_id, snapshot_type, source, body, created_at FROM snapshots WHERE true`
	args := []any{}
	argIdx := 1

	if filter.MatchID != "" {
		query += fmt.Sprintf(` AND match_id = $%d`, argIdx)
		args = append(args, filter.MatchID)
		argIdx++
	}
	if filter.SnapshotType != "" {
		query += fmt.Sprintf(` AND snapshot_type = $%d`, argIdx)
		args = append(args, filter.SnapshotType)
		argIdx++
	}
	query += ` ORDER BY created_at DESC, snapshot_id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var recs []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		if err := rows.Scan(&rec.SnapshotID, &rec.MatchID, &rec.SnapshotType, &rec.Source, &rec.Body, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

func (s *PostgresStore) SaveRun(ctx context.Context, run model.AnalysisRun) error {
	body, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, match_id, status, resolve_status, policy_version, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status, resolve_status = EXCLUDED.resolve_status, body = EXCLUDED.body`,
		run.ID, run.MatchID, string(run.Status), string(run.ResolveStatus),
		run.PolicyVersion, body, run.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save run %s", run.ID)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM runs WHERE id = $1`,
		runID,
	).Scan(&body)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	var run model.AnalysisRun
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run")
	}
	return &run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error) {
	query := `SELECT body FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.MatchID != "" {
		query += fmt.Sprintf(` AND match_id = $%d`, argIdx)
		args = append(args, filter.MatchID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.AnalysisRun
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var run model.AnalysisRun
		if err := json.Unmarshal(body, &run); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run")
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

var outcomeColumns = []string{
	"run_id", "fixture_id", "market", "reason_code", "selection", "result",
	"confidence", "evidence_observed_at", "decided_at", "resolved_at",
	"snapshot_ids", "snapshot_type",
}

func (s *PostgresStore) SaveOutcomes(ctx context.Context, outcomes []model.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(outcomes))
	for _, o := range outcomes {
		idsJSON, err := json.Marshal(o.SnapshotIDs)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal snapshot ids")
		}
		rows = append(rows, []any{
			o.RunID, o.FixtureID, string(o.Market), o.ReasonCode, o.Selection,
			string(o.Result), o.Confidence, pgNullTime(o.EvidenceObservedAt),
			o.DecidedAt.UTC(), pgNullTimePtr(o.ResolvedAt), idsJSON, o.SnapshotType,
		})
	}

	// Large batches (historical backfills) go through the COPY-based
	// upsert; small ones are cheaper as plain inserts.
	if len(rows) >= bulkUpsertThreshold {
		_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
			Table:        "outcomes",
			Columns:      outcomeColumns,
			ConflictKeys: []string{"run_id", "fixture_id", "market"},
			UpdateCols:   []string{"result", "resolved_at"},
		}, rows)
		return eris.Wrap(err, "postgres: bulk save outcomes")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin outcomes tx")
	}
	defer tx.Rollback(ctx)

	for i, row := range rows {
		_, err := tx.Exec(ctx,
			`INSERT INTO outcomes
			 (run_id, fixture_id, market, reason_code, selection, result, confidence,
			  evidence_observed_at, decided_at, resolved_at, snapshot_ids, snapshot_type)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (run_id, fixture_id, market) DO UPDATE SET
			   result = EXCLUDED.result, resolved_at = EXCLUDED.resolved_at`,
			row...,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert outcome %s/%s", outcomes[i].RunID, outcomes[i].Market)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit outcomes")
}

func (s *PostgresStore) ResolveOutcome(ctx context.Context, runID, fixtureID string, market model.Market, result model.OutcomeResult, resolvedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outcomes SET result = $1, resolved_at = $2 WHERE run_id = $3 AND fixture_id = $4 AND market = $5`,
		string(result), resolvedAt.UTC(), runID, fixtureID, string(market),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve outcome %s/%s", runID, market)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("outcome not found: %s/%s", runID, market)
	}
	return nil
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]model.Outcome, error) {
	query := `SELECT run_id, fixture_id, market, reason_code, selection, result, confidence,
	          evidence_observed_at, decided_at, resolved_at, snapshot_ids, snapshot_type
	          FROM outcomes WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Market != "" {
		query += fmt.Sprintf(` AND market = $%d`, argIdx)
		args = append(args, string(filter.Market))
		argIdx++
	}
	if filter.Result != "" {
		query += fmt.Sprintf(` AND result = $%d`, argIdx)
		args = append(args, filter.Result)
		argIdx++
	}
	query += ` ORDER BY decided_at, run_id, fixture_id, market`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outcomes")
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var o model.Outcome
		var market, result string
		var idsJSON []byte
		var observedAt, resolvedAt *time.Time

		if err := rows.Scan(&o.RunID, &o.FixtureID, &market, &o.ReasonCode, &o.Selection,
			&result, &o.Confidence, &observedAt, &o.DecidedAt, &resolvedAt, &idsJSON, &o.SnapshotType); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}

		o.Market = model.Market(market)
		o.Result = model.OutcomeResult(result)
		if observedAt != nil {
			o.EvidenceObservedAt = observedAt.UTC()
		}
		if resolvedAt != nil {
			t := resolvedAt.UTC()
			o.ResolvedAt = &t
		}
		if err := json.Unmarshal(idsJSON, &o.SnapshotIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal snapshot ids")
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, eris.Wrap(rows.Err(), "postgres: list outcomes iterate")
}

func (s *PostgresStore) CountOutcomes(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outcomes`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count outcomes")
}

func pgNullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func pgNullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
