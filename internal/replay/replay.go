// Package replay generates late-data scenario variants over stored
// snapshot envelopes and measures how decisions would hold up if the
// same evidence arrived late. Simulation only: payloads are never
// modified and nothing here feeds back into live decisions.
package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/decision-cli/internal/snapshot"
)

// Scenario types.
const (
	TypeDelayedObservedAt  = "DELAYED_OBSERVED_AT"
	TypeMissingTimingTags  = "MISSING_TIMING_TAGS"
	TypeStaleEffectiveFrom = "STALE_EFFECTIVE_FROM"
)

// DelayOffsetsMinutes are the fixed observed-at delays: 15m, 1h, 6h,
// 24h and 3d.
var DelayOffsetsMinutes = []int{15, 60, 6 * 60, 24 * 60, 3 * 24 * 60}

// StaleEffectiveOffsetsMinutes are the fixed effective-from shifts:
// -1h, +1h and +6h.
var StaleEffectiveOffsetsMinutes = []int{-60, 60, 6 * 60}

// Variant is one derived envelope together with its scenario tag. The
// payload checksum always equals the base snapshot's; only timing
// fields and the envelope checksum differ.
type Variant struct {
	Scenario snapshot.ScenarioBlock `json:"scenario"`
	Envelope snapshot.Envelope      `json:"envelope"`
}

// ScenarioID derives the deterministic scenario id: the first 16 hex
// chars of SHA-256 over base__type__k=v with parameters sorted by key.
func ScenarioID(baseSnapshotID, scenarioType string, params map[string]any) string {
	parts := []string{baseSnapshotID, scenarioType}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "__")))
	return hex.EncodeToString(sum[:])[:16]
}

// GenerateVariants produces every late-data variant of one envelope:
// five observed-at delays, one timing-tag drop and three effective-from
// shifts, in fixed order.
func GenerateVariants(env snapshot.Envelope, fixtureID string, now time.Time) ([]Variant, error) {
	created := snapshot.ISO(now)
	out := make([]Variant, 0, len(DelayOffsetsMinutes)+1+len(StaleEffectiveOffsetsMinutes))

	for _, m := range DelayOffsetsMinutes {
		v, err := buildVariant(env, fixtureID, TypeDelayedObservedAt,
			map[string]any{"delay_minutes": m}, created, applyDelayedObservedAt(env, m))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}

	v, err := buildVariant(env, fixtureID, TypeMissingTimingTags,
		map[string]any{}, created, applyMissingTimingTags(env))
	if err != nil {
		return nil, err
	}
	out = append(out, v)

	for _, m := range StaleEffectiveOffsetsMinutes {
		v, err := buildVariant(env, fixtureID, TypeStaleEffectiveFrom,
			map[string]any{"shift_minutes": m}, created, applyStaleEffectiveFrom(env, m))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func buildVariant(base snapshot.Envelope, fixtureID, scenarioType string, params map[string]any, created string, derived snapshot.Envelope) (Variant, error) {
	baseID := base.SnapshotID
	if baseID == "" {
		baseID = base.PayloadChecksum
	}
	block := snapshot.ScenarioBlock{
		ScenarioID:     ScenarioID(baseID, scenarioType, params),
		BaseSnapshotID: baseID,
		FixtureID:      fixtureID,
		ScenarioType:   scenarioType,
		Parameters:     params,
		CreatedAtUTC:   created,
	}

	derived.PayloadChecksum = base.PayloadChecksum
	derived.Scenario = &block
	derived, err := derived.WithChecksum()
	if err != nil {
		return Variant{}, err
	}
	return Variant{Scenario: block, Envelope: derived}, nil
}

// applyDelayedObservedAt moves observed_at later. An unparsable
// timestamp leaves the envelope untouched.
func applyDelayedObservedAt(env snapshot.Envelope, delayMinutes int) snapshot.Envelope {
	observed := env.ObservedAtUTC
	if observed == "" {
		observed = env.CreatedAtUTC
	}
	t, err := time.Parse(time.RFC3339, observed)
	if err != nil {
		return env
	}
	env.ObservedAtUTC = snapshot.ISO(t.Add(time.Duration(delayMinutes) * time.Minute))
	return env
}

// applyMissingTimingTags drops every optional timing field.
func applyMissingTimingTags(env snapshot.Envelope) snapshot.Envelope {
	env.FetchStartedAtUTC = ""
	env.FetchEndedAtUTC = ""
	env.LatencyMS = nil
	env.EffectiveFromUTC = ""
	env.ExpectedValidUntilUTC = ""
	return env
}

// applyStaleEffectiveFrom shifts effective_from, falling back to
// observed_at then created_at as the base timestamp.
func applyStaleEffectiveFrom(env snapshot.Envelope, shiftMinutes int) snapshot.Envelope {
	base := env.EffectiveFromUTC
	if base == "" {
		base = env.ObservedAtUTC
	}
	if base == "" {
		base = env.CreatedAtUTC
	}
	t, err := time.Parse(time.RFC3339, base)
	if err != nil {
		return env
	}
	env.EffectiveFromUTC = snapshot.ISO(t.Add(time.Duration(shiftMinutes) * time.Minute))
	return env
}
