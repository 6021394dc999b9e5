package model

import "time"

// OutcomeResult is the settled result of a played decision.
type OutcomeResult string

const (
	OutcomeSuccess OutcomeResult = "SUCCESS"
	OutcomeFailure OutcomeResult = "FAILURE"
	OutcomeVoid    OutcomeResult = "VOID"
	OutcomePending OutcomeResult = "PENDING"
)

// IsNeutral reports whether the result counts as neither correct nor
// incorrect for accuracy purposes (void, pending, unknown).
func (r OutcomeResult) IsNeutral() bool {
	return r != OutcomeSuccess && r != OutcomeFailure
}

// Outcome links a persisted decision to its settled result. These rows are
// the feedstock of the measurement subsystem; they are never consulted by
// the decision engine itself.
type Outcome struct {
	RunID      string        `json:"run_id"`
	FixtureID  string        `json:"fixture_id"`
	Market     Market        `json:"market"`
	ReasonCode string        `json:"reason_code"`
	Selection  string        `json:"selection,omitempty"`
	Result     OutcomeResult `json:"result"`
	Confidence float64       `json:"confidence"`

	// EvidenceObservedAt is when the decision's evidence was observed;
	// DecidedAt minus this is the evidence age used for staleness banding.
	EvidenceObservedAt time.Time  `json:"evidence_observed_at"`
	DecidedAt          time.Time  `json:"decided_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`

	SnapshotIDs  []string `json:"snapshot_ids,omitempty"`
	SnapshotType string   `json:"snapshot_type,omitempty"`
}

// EvidenceAge returns the decision-time age of the outcome's evidence.
// Outcomes with no observed timestamp report zero age.
func (o *Outcome) EvidenceAge() time.Duration {
	if o.EvidenceObservedAt.IsZero() {
		return 0
	}
	return o.DecidedAt.Sub(o.EvidenceObservedAt)
}
