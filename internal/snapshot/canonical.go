// Package snapshot implements provenance envelopes and content-addressed
// checksums for stored payloads. Identical canonical payloads always hash
// to the same snapshot id, which is what makes snapshot writes idempotent.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// CanonicalJSON serializes v deterministically: object keys sorted,
// compact separators, no HTML escaping. Struct values are round-tripped
// through a generic map so field order never leaks into the bytes.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: marshal payload")
	}

	// UseNumber keeps numeric literals byte-identical across the round trip.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, eris.Wrap(err, "snapshot: decode payload tree")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, eris.Wrap(err, "snapshot: encode canonical")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SHA256Hex returns the hex-encoded SHA-256 of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// PayloadChecksum returns the SHA-256 of the canonical form of payload.
// This value doubles as the snapshot id.
func PayloadChecksum(payload any) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}
