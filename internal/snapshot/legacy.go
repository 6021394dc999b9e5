package snapshot

import (
	"encoding/json"
	"time"
)

// ParseCallbacks receive non-fatal findings while reading stored
// snapshots. Missing envelope fields and integrity mismatches are
// reported, never raised: a bad envelope must not fail the read.
type ParseCallbacks struct {
	OnMissingFields   func(fields []string)
	OnIntegrityFailed func(snapshotID, detail string)
}

func defaultMeta(created string) map[string]any {
	return map[string]any{
		"snapshot_id":      "",
		"snapshot_type":    TypeRecorded,
		"created_at_utc":   created,
		"payload_checksum": "",
		"source": map[string]any{
			"class":            string(SourceRecorded),
			"name":             "recorded",
			"reliability_tier": string(TierHigh),
		},
		"observed_at_utc": created,
		"schema_version":  0,
	}
}

// ParseStored reads stored snapshot bytes, returning the envelope and
// payload. Enveloped rows get missing fields defaulted (with older key
// spellings normalized); legacy rows without an envelope are wrapped in a
// defaulted recorded envelope. Integrity is verified against the stored
// envelope checksum when present.
func ParseStored(payloadJSON []byte, createdAtFallback time.Time, cb ParseCallbacks) (Envelope, map[string]any) {
	created := ISO(createdAtFallback)
	if createdAtFallback.IsZero() {
		created = ISO(time.Now())
	}

	var raw map[string]any
	if err := json.Unmarshal(payloadJSON, &raw); err != nil {
		if cb.OnMissingFields != nil {
			cb.OnMissingFields([]string{"legacy_no_envelope"})
		}
		return metaToEnvelope(defaultMeta(created)), map[string]any{}
	}

	metaRaw, hasMeta := raw["metadata"].(map[string]any)
	payloadRaw, hasPayload := raw["payload"]
	if !hasMeta || !hasPayload {
		// Legacy: the whole document is the payload.
		if cb.OnMissingFields != nil {
			cb.OnMissingFields([]string{"legacy_no_envelope"})
		}
		return metaToEnvelope(defaultMeta(created)), raw
	}

	payload, _ := payloadRaw.(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}

	meta := make(map[string]any, len(metaRaw))
	for k, v := range metaRaw {
		meta[k] = v
	}

	var missing []string

	// Normalize pre-envelope key spellings.
	aliasKey(meta, "observed_at", "observed_at_utc")
	aliasKey(meta, "checksum", "payload_checksum")
	aliasKey(meta, "fetch_started_at", "fetch_started_at_utc")
	aliasKey(meta, "fetch_ended_at", "fetch_ended_at_utc")

	if strVal(meta["created_at_utc"]) == "" {
		if v := strVal(meta["created_at"]); v != "" {
			meta["created_at_utc"] = v
		} else {
			meta["created_at_utc"] = created
			missing = append(missing, "created_at_utc")
		}
	}
	if strVal(meta["observed_at_utc"]) == "" {
		meta["observed_at_utc"] = meta["created_at_utc"]
		missing = append(missing, "observed_at_utc")
	}
	if _, ok := meta["schema_version"]; !ok {
		meta["schema_version"] = 0
		missing = append(missing, "schema_version")
	}
	if _, ok := meta["source"].(map[string]any); !ok {
		meta["source"] = defaultMeta(created)["source"]
		missing = append(missing, "source")
	}
	if strVal(meta["snapshot_id"]) == "" {
		meta["snapshot_id"] = strVal(meta["payload_checksum"])
	}

	if len(missing) > 0 && cb.OnMissingFields != nil {
		cb.OnMissingFields(missing)
	}

	if stored := strVal(meta["envelope_checksum"]); stored != "" && cb.OnIntegrityFailed != nil {
		computed, err := envelopeMapChecksum(meta)
		if err == nil && computed != stored {
			cb.OnIntegrityFailed(strVal(meta["snapshot_id"]), "envelope_checksum mismatch")
		}
	}

	return metaToEnvelope(meta), payload
}

func aliasKey(meta map[string]any, from, to string) {
	if strVal(meta[from]) != "" && strVal(meta[to]) == "" {
		meta[to] = meta[from]
		delete(meta, from)
	}
}

func strVal(v any) string {
	s, _ := v.(string)
	return s
}

func metaToEnvelope(meta map[string]any) Envelope {
	raw, err := json.Marshal(meta)
	if err != nil {
		return Envelope{}
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}
	}
	return env
}
