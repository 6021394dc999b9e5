package snapshot

import (
	"encoding/json"
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// EnvelopeSchemaVersion is written into every new envelope. Stored
// envelopes with version 0 predate the envelope format and get defaults
// on read.
const EnvelopeSchemaVersion = 1

// Snapshot types.
const (
	TypeRecorded     = "recorded"
	TypeLiveShadow   = "live_shadow"
	TypeEvidencePack = "evidence_pack"
)

// SourceClass classifies where a payload came from.
type SourceClass string

const (
	SourceRecorded   SourceClass = "RECORDED"
	SourceLiveShadow SourceClass = "LIVE_SHADOW"
	SourceEditorial  SourceClass = "EDITORIAL"
	SourceUnknown    SourceClass = "UNKNOWN"
)

// ReliabilityTier grades a source's trustworthiness.
type ReliabilityTier string

const (
	TierHigh ReliabilityTier = "HIGH"
	TierMed  ReliabilityTier = "MED"
	TierLow  ReliabilityTier = "LOW"
)

// TierFor maps a source class to its default reliability tier.
func TierFor(class SourceClass) ReliabilityTier {
	switch class {
	case SourceRecorded:
		return TierHigh
	case SourceLiveShadow, SourceEditorial:
		return TierMed
	default:
		return TierLow
	}
}

// Source identifies the origin of a snapshot payload.
type Source struct {
	Class           SourceClass     `json:"class"`
	Name            string          `json:"name"`
	Ref             string          `json:"ref,omitempty"`
	ReliabilityTier ReliabilityTier `json:"reliability_tier"`
}

// Envelope is the canonical provenance/timing wrapper around a stored
// payload. All timestamps are UTC ISO strings in JSON.
type Envelope struct {
	SnapshotID            string         `json:"snapshot_id"`
	SnapshotType          string         `json:"snapshot_type"`
	CreatedAtUTC          string         `json:"created_at_utc"`
	PayloadChecksum       string         `json:"payload_checksum"`
	Source                Source         `json:"source"`
	ObservedAtUTC         string         `json:"observed_at_utc"`
	FetchStartedAtUTC     string         `json:"fetch_started_at_utc,omitempty"`
	FetchEndedAtUTC       string         `json:"fetch_ended_at_utc,omitempty"`
	LatencyMS             *float64       `json:"latency_ms,omitempty"`
	EffectiveFromUTC      string         `json:"effective_from_utc,omitempty"`
	ExpectedValidUntilUTC string         `json:"expected_valid_until_utc,omitempty"`
	SchemaVersion         int            `json:"schema_version"`
	EnvelopeChecksum      string         `json:"envelope_checksum,omitempty"`
	Scenario              *ScenarioBlock `json:"scenario,omitempty"`
}

// ScenarioBlock tags a replay variant envelope with the scenario that
// derived it from a base snapshot.
type ScenarioBlock struct {
	ScenarioID     string         `json:"scenario_id"`
	BaseSnapshotID string         `json:"base_snapshot_id"`
	FixtureID      string         `json:"fixture_id"`
	ScenarioType   string         `json:"scenario_type"`
	Parameters     map[string]any `json:"parameters"`
	CreatedAtUTC   string         `json:"created_at_utc"`
}

// FetchTiming carries the optional live-fetch timing tags.
type FetchTiming struct {
	StartedAt time.Time
	EndedAt   time.Time
}

// ISO formats a time as a UTC RFC3339 string, the envelope timestamp form.
func ISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// envelopeMap returns the envelope as a generic map with the
// envelope_checksum field removed, the form the checksum is computed over.
func (e Envelope) envelopeMap() (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: marshal envelope")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, eris.Wrap(err, "snapshot: unmarshal envelope map")
	}
	delete(m, "envelope_checksum")
	return m, nil
}

// ComputeChecksum returns the envelope checksum: SHA-256 over the
// canonical envelope excluding the envelope_checksum field itself.
func (e Envelope) ComputeChecksum() (string, error) {
	m, err := e.envelopeMap()
	if err != nil {
		return "", err
	}
	return envelopeMapChecksum(m)
}

func envelopeMapChecksum(m map[string]any) (string, error) {
	clean := make(map[string]any, len(m))
	for k, v := range m {
		if k == "envelope_checksum" {
			continue
		}
		clean[k] = v
	}
	canonical, err := CanonicalJSON(clean)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

// WithChecksum returns a copy of the envelope with EnvelopeChecksum set.
func (e Envelope) WithChecksum() (Envelope, error) {
	sum, err := e.ComputeChecksum()
	if err != nil {
		return Envelope{}, err
	}
	e.EnvelopeChecksum = sum
	return e, nil
}

// VerifyChecksum recomputes the envelope checksum and compares it to the
// stored one. Envelopes without a stored checksum verify trivially.
func (e Envelope) VerifyChecksum() (bool, error) {
	if e.EnvelopeChecksum == "" {
		return true, nil
	}
	sum, err := e.ComputeChecksum()
	if err != nil {
		return false, err
	}
	return sum == e.EnvelopeChecksum, nil
}

// ComputeLatencyMS derives latency in milliseconds from fetch timing tag
// strings, rounded to 2 decimals. Returns nil when either tag is missing
// or unparseable.
func ComputeLatencyMS(startedAtUTC, endedAtUTC string) *float64 {
	if startedAtUTC == "" || endedAtUTC == "" {
		return nil
	}
	start, err := time.Parse(time.RFC3339, startedAtUTC)
	if err != nil {
		return nil
	}
	end, err := time.Parse(time.RFC3339, endedAtUTC)
	if err != nil {
		return nil
	}
	ms := math.Round(end.Sub(start).Seconds()*1000*100) / 100
	return &ms
}

// NewRecorded builds a checksummed envelope for a recorded payload. The
// snapshot id is the payload checksum, so identical payloads share an id.
func NewRecorded(payload any, createdAt time.Time, sourceName string) (Envelope, error) {
	checksum, err := PayloadChecksum(payload)
	if err != nil {
		return Envelope{}, err
	}
	created := ISO(createdAt)
	env := Envelope{
		SnapshotID:      checksum,
		SnapshotType:    TypeRecorded,
		CreatedAtUTC:    created,
		PayloadChecksum: checksum,
		Source: Source{
			Class:           SourceRecorded,
			Name:            sourceName,
			ReliabilityTier: TierFor(SourceRecorded),
		},
		ObservedAtUTC: created,
		SchemaVersion: EnvelopeSchemaVersion,
	}
	return env.WithChecksum()
}

// NewEvidencePack builds a checksummed envelope for an aggregated evidence
// pack. Packs derive from recorded sources and inherit their tier.
func NewEvidencePack(payload any, createdAt time.Time) (Envelope, error) {
	checksum, err := PayloadChecksum(payload)
	if err != nil {
		return Envelope{}, err
	}
	created := ISO(createdAt)
	env := Envelope{
		SnapshotID:      checksum,
		SnapshotType:    TypeEvidencePack,
		CreatedAtUTC:    created,
		PayloadChecksum: checksum,
		Source: Source{
			Class:           SourceRecorded,
			Name:            "evidence_aggregator",
			ReliabilityTier: TierFor(SourceRecorded),
		},
		ObservedAtUTC: created,
		SchemaVersion: EnvelopeSchemaVersion,
	}
	return env.WithChecksum()
}

// NewLiveShadow builds a checksummed envelope for a live shadow payload
// with fetch timing tags.
func NewLiveShadow(payload any, createdAt time.Time, sourceName string, observedAt time.Time, timing *FetchTiming) (Envelope, error) {
	checksum, err := PayloadChecksum(payload)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		SnapshotID:      checksum,
		SnapshotType:    TypeLiveShadow,
		CreatedAtUTC:    ISO(createdAt),
		PayloadChecksum: checksum,
		Source: Source{
			Class:           SourceLiveShadow,
			Name:            sourceName,
			ReliabilityTier: TierFor(SourceLiveShadow),
		},
		ObservedAtUTC: ISO(observedAt),
		SchemaVersion: EnvelopeSchemaVersion,
	}
	if timing != nil {
		env.FetchStartedAtUTC = ISO(timing.StartedAt)
		env.FetchEndedAtUTC = ISO(timing.EndedAt)
		env.LatencyMS = ComputeLatencyMS(env.FetchStartedAtUTC, env.FetchEndedAtUTC)
	}
	return env.WithChecksum()
}

// Stored is the persisted snapshot form: envelope plus payload.
type Stored struct {
	Metadata Envelope       `json:"metadata"`
	Payload  map[string]any `json:"payload"`
}

// MarshalStored serializes an envelope and payload into canonical stored
// bytes for the snapshots table.
func MarshalStored(env Envelope, payload map[string]any) ([]byte, error) {
	return CanonicalJSON(Stored{Metadata: env, Payload: payload})
}
