package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/decision-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	snapshot_id   TEXT PRIMARY KEY,
	match_id      TEXT NOT NULL,
	snapshot_type TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	match_id       TEXT NOT NULL,
	status         TEXT NOT NULL,
	resolve_status TEXT NOT NULL,
	policy_version TEXT NOT NULL,
	body           TEXT NOT NULL,
	created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS outcomes (
	run_id               TEXT NOT NULL,
	fixture_id           TEXT NOT NULL,
	market               TEXT NOT NULL,
	reason_code          TEXT NOT NULL DEFAULT '',
	selection            TEXT NOT NULL DEFAULT '',
	result               TEXT NOT NULL DEFAULT 'PENDING',
	confidence           REAL NOT NULL DEFAULT 0,
	evidence_observed_at DATETIME,
	decided_at           DATETIME NOT NULL,
	resolved_at          DATETIME,
	snapshot_ids         TEXT NOT NULL DEFAULT '[]',
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutSnapshot(ctx context.Context, rec SnapshotRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (snapshot_id, match_id, snapshot_type, source, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (snapshot_id) DO NOTHING`,
		rec.SnapshotID, rec.MatchID, rec.SnapshotType, rec.Source, string(rec.Body), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: put snapshot %s", rec.SnapshotID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, snapshotID string) (*SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT snapshot_id, match_id, snapshot_type, source, body, created_at FROM snapshots WHERE snapshot_id = ?`,
		snapshotID,
	)
	return scanSnapshot(row)
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, matchID, snapshotType string) (*SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT snapshot_id, match_id, snapshot_type, source, body, created_at FROM snapshots
		 WHERE match_id = ? AND snapshot_type = ?
		 ORDER BY created_at DESC, snapshot_id LIMIT 1`,
		matchID, snapshotType,
	)
	return scanSnapshot(row)
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]SnapshotRecord, error) {
	query := `SELECT snapshot_id, match_id, snapshot_type, source, body, created_at FROM snapshots WHERE 1=1`
	var args []any

	if filter.MatchID != "" {
		query += ` AND match_id = ?`
		args = append(args, filter.MatchID)
	}
	if filter.SnapshotType != "" {
		query += ` AND snapshot_type = ?`
		args = append(args, filter.SnapshotType)
	}
	query += ` ORDER BY created_at DESC, snapshot_id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close()

	var recs []SnapshotRecord
	for rows.Next() {
		r, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run model.AnalysisRun) error {
	body, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, match_id, status, resolve_status, policy_version, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   status = excluded.status, resolve_status = excluded.resolve_status, body = excluded.body`,
		run.ID, run.MatchID, string(run.Status), string(run.ResolveStatus),
		run.PolicyVersion, string(body), run.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save run %s", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM runs WHERE id = ?`,
		runID,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	var run model.AnalysisRun
	if err := json.Unmarshal([]byte(body), &run); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run")
	}
	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error) {
	query := `SELECT body FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.MatchID != "" {
		query += ` AND match_id = ?`
		args = append(args, filter.MatchID)
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.AnalysisRun
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		var run model.AnalysisRun
		if err := json.Unmarshal([]byte(body), &run); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run")
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveOutcomes(ctx context.Context, outcomes []model.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin outcomes tx")
	}
	defer tx.Rollback()

	for _, o := range outcomes {
		idsJSON, err := json.Marshal(o.SnapshotIDs)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal snapshot ids")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO outcomes
			 (run_id, fixture_id, market, reason_code, selection, result, confidence,
			  evidence_observed_at, decided_at, resolved_at, snapshot_ids, snapshot_type)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (run_id, fixture_id, market) DO UPDATE SET
			   result = excluded.result, resolved_at = excluded.resolved_at`,
			o.RunID, o.FixtureID, string(o.Market), o.ReasonCode, o.Selection,
			string(o.Result), o.Confidence, nullTime(o.EvidenceObservedAt),
			o.DecidedAt.UTC(), nullTimePtr(o.ResolvedAt), string(idsJSON), o.SnapshotType,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert outcome %s/%s", o.RunID, o.Market)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit outcomes")
}

func (s *SQLiteStore) ResolveOutcome(ctx context.Context, runID, fixtureID string, market model.Market, result model.OutcomeResult, resolvedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outcomes SET result = ?, resolved_at = ? WHERE run_id = ? AND fixture_id = ? AND market = ?`,
		string(result), resolvedAt.UTC(), runID, fixtureID, string(market),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve outcome %s/%s", runID, market)
	}
	return checkRowsAffected(res, "outcome", runID+"/"+string(market))
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]model.Outcome, error) {
	query := `SELECT run_id, fixture_id, market, reason_code, selection, result, confidence,
	          evidence_observed_at, decided_at, resolved_at, snapshot_ids, snapshot_type
	          FROM outcomes WHERE 1=1`
	var args []any

	if filter.Market != "" {
		query += ` AND market = ?`
		args = append(args, string(filter.Market))
	}
	if filter.Result != "" {
		query += ` AND result = ?`
		args = append(args, filter.Result)
	}
	query += ` ORDER BY decided_at, run_id, fixture_id, market`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outcomes")
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, *o)
	}
	return outcomes, eris.Wrap(rows.Err(), "sqlite: list outcomes iterate")
}

func (s *SQLiteStore) CountOutcomes(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outcomes`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count outcomes")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scannable) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	var body string

	err := row.Scan(&rec.SnapshotID, &rec.MatchID, &rec.SnapshotType, &rec.Source, &body, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan snapshot")
	}
	rec.Body = []byte(body)
	return &rec, nil
}

func scanOutcome(row scannable) (*model.Outcome, error) {
	var o model.Outcome
	var market, result, idsJSON string
	var observedAt, resolvedAt sql.NullTime

	err := row.Scan(&o.RunID, &o.FixtureID, &market, &o.ReasonCode, &o.Selection,
		&result, &o.Confidence, &observedAt, &o.DecidedAt, &resolvedAt, &idsJSON, &o.SnapshotType)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan outcome")
	}

	o.Market = model.Market(market)
	o.Result = model.OutcomeResult(result)
	if observedAt.Valid {
		o.EvidenceObservedAt = observedAt.Time.UTC()
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		o.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(idsJSON), &o.SnapshotIDs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal snapshot ids")
	}
	return &o, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
