package evidence

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/sells-group/decision-cli/internal/model"
)

// NumericTolerance is the absolute disagreement allowed between two sources
// reporting the same scalar before the merge flags LOW_AGREEMENT.
const NumericTolerance = 0.1

// Merge combines per-source payloads for one domain into a single data map.
// Sources are ranked by (source confidence desc, fetched_at desc, source name
// asc); the highest-ranked source wins each key and lower-ranked sources only
// fill keys the winner lacks. Nested maps merge recursively. Scalar numeric
// disagreement beyond NumericTolerance between any two sources produces a
// LOW_AGREEMENT flag but never changes the winning value.
func Merge(payloads []model.SourcePayload) (map[string]any, []model.EvidenceFlag) {
	return MergeWithTolerance(payloads, NumericTolerance)
}

// MergeWithTolerance is Merge with an explicit disagreement tolerance.
func MergeWithTolerance(payloads []model.SourcePayload, tolerance float64) (map[string]any, []model.EvidenceFlag) {
	if len(payloads) == 0 {
		return map[string]any{}, nil
	}

	ranked := rankPayloads(payloads)

	merged := map[string]any{}
	disagreement := false
	for _, p := range ranked {
		if mergeMaps(merged, p.Data, tolerance) {
			disagreement = true
		}
	}

	var flags []model.EvidenceFlag
	if disagreement {
		flags = append(flags, model.EvidenceLowAgreement)
	}
	return merged, flags
}

// rankPayloads returns payloads ordered by merge priority without mutating
// the input.
func rankPayloads(payloads []model.SourcePayload) []model.SourcePayload {
	ranked := make([]model.SourcePayload, len(payloads))
	copy(ranked, payloads)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].SourceConfidence != ranked[j].SourceConfidence {
			return ranked[i].SourceConfidence > ranked[j].SourceConfidence
		}
		if !ranked[i].FetchedAt.Equal(ranked[j].FetchedAt) {
			return ranked[i].FetchedAt.After(ranked[j].FetchedAt)
		}
		return ranked[i].Source < ranked[j].Source
	})
	return ranked
}

// mergeMaps folds src into dst, first-writer-wins per key, and reports
// whether any already-present scalar numeric disagreed beyond tolerance.
// Nested maps are copied on insert so merged output never aliases a
// source payload.
func mergeMaps(dst, src map[string]any, tolerance float64) bool {
	disagreement := false
	for key, sv := range src {
		dv, exists := dst[key]
		if !exists {
			if sm, ok := sv.(map[string]any); ok {
				cp := make(map[string]any, len(sm))
				mergeMaps(cp, sm, tolerance)
				dst[key] = cp
			} else {
				dst[key] = sv
			}
			continue
		}
		dm, dOK := dv.(map[string]any)
		sm, sOK := sv.(map[string]any)
		if dOK && sOK {
			if mergeMaps(dm, sm, tolerance) {
				disagreement = true
			}
			continue
		}
		if numericDisagreement(dv, sv, tolerance) {
			disagreement = true
		}
	}
	return disagreement
}

// numericDisagreement reports whether two values are both numeric and differ
// by more than the tolerance.
func numericDisagreement(a, b any, tolerance float64) bool {
	af, aOK := toFloat(a)
	bf, bOK := toFloat(b)
	if !aOK || !bOK {
		return false
	}
	return math.Abs(af-bf) > tolerance
}

// toFloat coerces JSON-decoded numeric representations to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
