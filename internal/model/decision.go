package model

import "time"

// DecisionKind is the canonical per-market decision outcome.
type DecisionKind string

const (
	DecisionPlay         DecisionKind = "PLAY"
	DecisionNoBet        DecisionKind = "NO_BET"
	DecisionNoPrediction DecisionKind = "NO_PREDICTION"
)

// Market identifies a supported betting market.
type Market string

const (
	Market1X2  Market = "1X2"
	MarketOU25 Market = "OU_2.5"
	MarketBTTS Market = "BTTS"
)

// SupportedMarkets is the closed set of markets the engine can score.
var SupportedMarkets = []Market{Market1X2, MarketOU25, MarketBTTS}

// IsSupported reports whether the market is in the supported set.
func (m Market) IsSupported() bool {
	for _, s := range SupportedMarkets {
		if m == s {
			return true
		}
	}
	return false
}

// Selection vocabularies, valid only when kind == PLAY.
const (
	SelectionHome  = "HOME"
	SelectionDraw  = "DRAW"
	SelectionAway  = "AWAY"
	SelectionOver  = "OVER"
	SelectionUnder = "UNDER"
	SelectionYes   = "YES"
	SelectionNo    = "NO"
)

// MarketFlag is the controlled vocabulary for decision and run-level flags.
type MarketFlag string

const (
	FlagDataSparse          MarketFlag = "DATA_SPARSE"
	FlagSourceConflict      MarketFlag = "SOURCE_CONFLICT"
	FlagSignalContradiction MarketFlag = "SIGNAL_CONTRADICTION"
	FlagLowQualityEvidence  MarketFlag = "LOW_QUALITY_EVIDENCE"
	FlagOutlierDetected     MarketFlag = "OUTLIER_DETECTED"
	FlagSmallSample         MarketFlag = "SMALL_SAMPLE"
	FlagStaleData           MarketFlag = "STALE_DATA"
	FlagMissingKeyFeatures  MarketFlag = "MISSING_KEY_FEATURES"
	FlagConsensusWeak       MarketFlag = "CONSENSUS_WEAK"
	FlagMarketNotSupported  MarketFlag = "MARKET_NOT_SUPPORTED"
	FlagGuardrailTriggered  MarketFlag = "INTERNAL_GUARDRAIL_TRIGGERED"

	// Resolver-derived, mapped when resolution is not RESOLVED.
	FlagAmbiguous MarketFlag = "AMBIGUOUS"
	FlagNotFound  MarketFlag = "NOT_FOUND"
)

// minorFlags are warning-grade flags: individually tolerable, but two or
// more on the same market trigger the soft downgrade to NO_BET.
var minorFlags = map[MarketFlag]bool{
	FlagDataSparse:      true,
	FlagSmallSample:     true,
	FlagStaleData:       true,
	FlagOutlierDetected: true,
	FlagConsensusWeak:   true,
}

// CountMinorFlags returns how many of the given flags are warning-grade.
func CountMinorFlags(flags []MarketFlag) int {
	n := 0
	for _, f := range flags {
		if minorFlags[f] {
			n++
		}
	}
	return n
}

// GateID identifies a quality gate in AnalysisRun.GateResults.
type GateID string

const (
	GateResolver                 GateID = "resolver"
	GateMissingKeyFeatures       GateID = "missing_key_features"
	GateEvidenceQuality          GateID = "evidence_quality"
	GateSourceConflict           GateID = "source_conflict"
	GateSignalContradiction      GateID = "signal_contradiction"
	GateMarketSupported          GateID = "market_supported"
	GateSoftBorderlineConfidence GateID = "soft_borderline_confidence"
	GateSoftMinorFlags           GateID = "soft_minor_flags"
)

// Policy constants for the v2 decision contract.
const (
	PolicyVersion      = "v2.0.0"
	MaxDecisionReasons = 10

	// consensus_quality < T1 blocks the market outright.
	ConflictT1Block = 0.40
	// T1 <= consensus_quality < T2 downgrades to NO_BET unless confidence
	// clears the override ceiling.
	ConflictT2Downgrade       = 0.65
	OverrideConfidenceBelowT2 = 0.78

	// Evidence quality below this is a hard block.
	EvidenceQualityMin = 0.50

	// Two or more minor flags downgrade a would-be PLAY to NO_BET.
	MaxMinorFlagsBeforeNoBet = 2

	// Default minimum confidence for a PLAY.
	DefaultMinConfidence = 0.62
)

// Decision is one market's outcome for one analysis run. Immutable once
// emitted; kind != PLAY never carries a selection.
type Decision struct {
	Market        Market       `json:"market"`
	Kind          DecisionKind `json:"kind"`
	Selection     string       `json:"selection,omitempty"`
	Confidence    *float64     `json:"confidence,omitempty"`
	Reasons       []string     `json:"reasons"`
	Flags         []MarketFlag `json:"flags"`
	EvidenceRefs  []string     `json:"evidence_refs"`
	PolicyVersion string       `json:"policy_version"`
}

// GateResult records the outcome of one gate evaluation, in evaluation order.
type GateResult struct {
	GateID GateID `json:"gate_id"`
	Market Market `json:"market,omitempty"`
	Pass   bool   `json:"pass"`
	Notes  string `json:"notes"`
}

// ConflictSummary carries the run-level quality scalars, rounded to 4 decimals.
type ConflictSummary struct {
	EvidenceQuality  float64 `json:"evidence_quality"`
	ConsensusQuality float64 `json:"consensus_quality"`
}

// RunStatus is the overall status of an analysis run.
type RunStatus string

const (
	// RunStatusOK means at least one market produced a PLAY.
	RunStatusOK RunStatus = "OK"
	// RunStatusNoPrediction means every market was blocked or downgraded.
	RunStatusNoPrediction RunStatus = "NO_PREDICTION"
)

// AnalysisRun is one execution of the decision engine: resolver outcome,
// the ordered gate trail, and the per-market decisions. Terminal once the
// decisions are emitted.
type AnalysisRun struct {
	ID              string               `json:"id"`
	MatchID         string               `json:"match_id,omitempty"`
	ResolveStatus   ResolveStatus        `json:"resolve_status"`
	Status          RunStatus            `json:"status"`
	PolicyVersion   string               `json:"policy_version"`
	Flags           []MarketFlag         `json:"flags"`
	GateResults     []GateResult         `json:"gate_results"`
	ConflictSummary *ConflictSummary     `json:"conflict_summary,omitempty"`
	Counts          map[DecisionKind]int `json:"counts"`
	Decisions       []Decision           `json:"decisions"`
	CreatedAt       time.Time            `json:"created_at"`
}
