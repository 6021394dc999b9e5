package model

import "time"

// ResolveStatus is the outcome of match resolution.
type ResolveStatus string

const (
	ResolveResolved  ResolveStatus = "RESOLVED"
	ResolveAmbiguous ResolveStatus = "AMBIGUOUS"
	ResolveNotFound  ResolveStatus = "NOT_FOUND"
)

// Evidence domains the aggregator knows how to assemble.
const (
	DomainFixtures = "fixtures"
	DomainStats    = "stats"
)

// EvidenceDomains lists the domains collected per run, in aggregation order.
var EvidenceDomains = []string{DomainFixtures, DomainStats}

// EvidenceFlag is the controlled vocabulary for evidence-level flags.
// Distinct from MarketFlag: these describe the input data, not a decision.
type EvidenceFlag string

const (
	EvidenceNoSources           EvidenceFlag = "NO_SOURCES_AVAILABLE"
	EvidenceInsufficientSources EvidenceFlag = "INSUFFICIENT_SOURCES"
	EvidenceStaleData           EvidenceFlag = "STALE_DATA"
	EvidenceIncompleteData      EvidenceFlag = "INCOMPLETE_DATA"
	EvidenceLowAgreement        EvidenceFlag = "LOW_AGREEMENT"
)

// criticalEvidenceFlags fail a domain's quality report outright.
var criticalEvidenceFlags = map[EvidenceFlag]bool{
	EvidenceNoSources:           true,
	EvidenceInsufficientSources: true,
}

// IsCritical reports whether the flag alone fails a quality report.
func (f EvidenceFlag) IsCritical() bool {
	return criticalEvidenceFlags[f]
}

// QualityReport scores one domain's evidence.
type QualityReport struct {
	Passed bool           `json:"passed"`
	Score  float64        `json:"score"`
	Flags  []EvidenceFlag `json:"flags"`
}

// DomainData is the merged evidence for one domain.
type DomainData struct {
	Data    map[string]any `json:"data"`
	Quality QualityReport  `json:"quality"`
	Sources []string       `json:"sources"`
}

// SourcePayload is one source's contribution to a domain, prior to merge.
type SourcePayload struct {
	Source           string         `json:"source"`
	SourceConfidence float64        `json:"source_confidence"`
	FetchedAt        time.Time      `json:"fetched_at"`
	Data             map[string]any `json:"data"`
}

// EvidencePack is the aggregated per-domain evidence for one match at one
// instant. Stored content-addressed; identical canonical payloads collapse
// to one snapshot.
type EvidencePack struct {
	MatchID       string                `json:"match_id"`
	Domains       map[string]DomainData `json:"domains"`
	CapturedAtUTC time.Time             `json:"captured_at_utc"`
	Flags         []EvidenceFlag        `json:"flags"`
}

// Domain returns the named domain's data and whether it is present.
func (p *EvidencePack) Domain(name string) (DomainData, bool) {
	if p == nil || p.Domains == nil {
		return DomainData{}, false
	}
	d, ok := p.Domains[name]
	return d, ok
}
