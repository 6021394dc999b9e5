package store

import (
	"context"
	"time"

	"github.com/sells-group/decision-cli/internal/model"
)

// SnapshotRecord is one stored snapshot row: the canonical envelope+payload
// bytes plus the columns we index on. SnapshotID doubles as the payload
// checksum, which is what makes re-imports idempotent.
type SnapshotRecord struct {
	SnapshotID   string    `json:"snapshot_id"`
	MatchID      string    `json:"match_id"`
	SnapshotType string    `json:"snapshot_type"`
	Source       string    `json:"source"`
	Body         []byte    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
}

// SnapshotFilter specifies criteria for listing snapshots.
type SnapshotFilter struct {
	MatchID      string `json:"match_id,omitempty"`
	SnapshotType string `json:"snapshot_type,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

// RunFilter specifies criteria for listing analysis runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	MatchID string          `json:"match_id,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// OutcomeFilter specifies criteria for listing decision outcomes.
type OutcomeFilter struct {
	Market model.Market `json:"market,omitempty"`
	Result string       `json:"result,omitempty"`
	Limit  int          `json:"limit,omitempty"`
}

// Store defines the persistence interface for snapshots, analysis runs and
// decision outcomes.
type Store interface {
	// Snapshots
	PutSnapshot(ctx context.Context, rec SnapshotRecord) (bool, error)
	GetSnapshot(ctx context.Context, snapshotID string) (*SnapshotRecord, error)
	LatestSnapshot(ctx context.Context, matchID, snapshotType string) (*SnapshotRecord, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]SnapshotRecord, error)

	// Analysis runs
	SaveRun(ctx context.Context, run model.AnalysisRun) error
	GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error)

	// Outcomes
	SaveOutcomes(ctx context.Context, outcomes []model.Outcome) error
	ResolveOutcome(ctx context.Context, runID, fixtureID string, market model.Market, result model.OutcomeResult, resolvedAt time.Time) error
	ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]model.Outcome, error)
	CountOutcomes(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
