package evidence

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/ops"
	"github.com/sells-group/decision-cli/internal/snapshot"
	"github.com/sells-group/decision-cli/internal/store"
)

// ConflictDiscount is applied to the consensus score when any domain merge
// reported disagreement between sources.
const ConflictDiscount = 0.7

// Confidence assigned to sources that do not declare their own, keyed by
// the envelope's reliability tier.
var tierConfidence = map[snapshot.ReliabilityTier]float64{
	snapshot.TierHigh: 0.9,
	snapshot.TierMed:  0.7,
	snapshot.TierLow:  0.5,
}

// Aggregator assembles stored snapshots into an EvidencePack for one match.
type Aggregator struct {
	store store.Store
	cfg   Config

	// nowFunc allows tests to control freshness and capture time.
	nowFunc func() time.Time
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(st store.Store, cfg Config) *Aggregator {
	if cfg.Domains == nil {
		cfg = DefaultConfig()
	}
	if cfg.NumericTolerance <= 0 {
		cfg.NumericTolerance = NumericTolerance
	}
	return &Aggregator{store: st, cfg: cfg, nowFunc: time.Now}
}

// Build reads all snapshots for the match, groups their payloads by domain,
// merges and scores each domain, and returns the pack plus the snapshot ids
// that contributed. Envelope integrity failures are logged and skipped over,
// never fatal.
func (a *Aggregator) Build(ctx context.Context, matchID string) (*model.EvidencePack, []string, error) {
	log := zap.L().With(zap.String("component", "evidence"), zap.String("match_id", matchID))

	snaps, err := a.store.ListSnapshots(ctx, store.SnapshotFilter{MatchID: matchID})
	if err != nil {
		return nil, nil, eris.Wrapf(err, "evidence: list snapshots for %s", matchID)
	}

	now := a.nowFunc().UTC()
	byDomain := make(map[string][]model.SourcePayload)
	var snapshotIDs []string

	for _, rec := range snaps {
		env, payload := snapshot.ParseStored(rec.Body, rec.CreatedAt, snapshot.ParseCallbacks{
			OnMissingFields: func(fields []string) {
				log.Debug("snapshot envelope incomplete",
					zap.String("snapshot_id", rec.SnapshotID),
					zap.Strings("missing", fields))
			},
			OnIntegrityFailed: func(snapshotID, detail string) {
				ops.IntegrityMismatch(snapshotID, matchID, detail)
			},
		})

		domain, sp, ok := sourcePayload(env, payload, rec.CreatedAt)
		if !ok {
			log.Debug("snapshot carries no domain payload", zap.String("snapshot_id", rec.SnapshotID))
			continue
		}
		byDomain[domain] = append(byDomain[domain], sp)
		snapshotIDs = append(snapshotIDs, rec.SnapshotID)
	}

	pack := &model.EvidencePack{
		MatchID:       matchID,
		Domains:       make(map[string]model.DomainData, len(model.EvidenceDomains)),
		CapturedAtUTC: now,
	}

	flagSet := make(map[model.EvidenceFlag]bool)
	for _, domain := range model.EvidenceDomains {
		payloads := byDomain[domain]
		merged, mergeFlags := MergeWithTolerance(payloads, a.cfg.NumericTolerance)
		quality := AssessQuality(domain, merged, payloads, a.cfg, now)
		quality.Flags = append(quality.Flags, mergeFlags...)

		pack.Domains[domain] = model.DomainData{
			Data:    merged,
			Quality: quality,
			Sources: sourceNames(payloads),
		}
		for _, f := range quality.Flags {
			flagSet[f] = true
		}
	}

	pack.Flags = sortedFlags(flagSet)
	sort.Strings(snapshotIDs)

	log.Debug("evidence pack built",
		zap.Int("snapshots", len(snapshotIDs)),
		zap.Float64("evidence_quality", EvidenceQuality(pack)),
		zap.Float64("consensus_quality", ConsensusQuality(pack)))

	return pack, snapshotIDs, nil
}

// sourcePayload extracts one source's domain contribution from a parsed
// snapshot. The payload declares its domain and data; confidence falls back
// to the envelope's reliability tier and fetch time to observed_at.
func sourcePayload(env snapshot.Envelope, payload map[string]any, createdAt time.Time) (string, model.SourcePayload, bool) {
	domain, _ := payload["domain"].(string)
	data, _ := payload["data"].(map[string]any)
	if domain == "" || data == nil {
		return "", model.SourcePayload{}, false
	}

	sp := model.SourcePayload{
		Source: env.Source.Name,
		Data:   data,
	}
	if name, ok := payload["source"].(string); ok && name != "" {
		sp.Source = name
	}

	if conf, ok := toFloat(payload["source_confidence"]); ok {
		sp.SourceConfidence = conf
	} else if tc, ok := tierConfidence[env.Source.ReliabilityTier]; ok {
		sp.SourceConfidence = tc
	} else {
		sp.SourceConfidence = tierConfidence[snapshot.TierLow]
	}

	sp.FetchedAt = createdAt
	if ts, ok := payload["fetched_at_utc"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			sp.FetchedAt = t
		}
	} else if t, err := time.Parse(time.RFC3339, env.ObservedAtUTC); err == nil {
		sp.FetchedAt = t
	}

	return domain, sp, true
}

// sourceNames lists contributing sources in merge priority order.
func sourceNames(payloads []model.SourcePayload) []string {
	ranked := rankPayloads(payloads)
	names := make([]string, 0, len(ranked))
	seen := make(map[string]bool)
	for _, p := range ranked {
		if seen[p.Source] {
			continue
		}
		seen[p.Source] = true
		names = append(names, p.Source)
	}
	return names
}

func sortedFlags(set map[model.EvidenceFlag]bool) []model.EvidenceFlag {
	if len(set) == 0 {
		return nil
	}
	out := make([]model.EvidenceFlag, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EvidenceQuality is the mean of all domain quality scores.
func EvidenceQuality(pack *model.EvidencePack) float64 {
	if pack == nil || len(pack.Domains) == 0 {
		return 0
	}
	var sum float64
	for _, d := range pack.Domains {
		sum += d.Quality.Score
	}
	return round4(sum / float64(len(pack.Domains)))
}

// ConsensusQuality is the minimum domain quality score, discounted when any
// domain's sources disagreed.
func ConsensusQuality(pack *model.EvidencePack) float64 {
	if pack == nil || len(pack.Domains) == 0 {
		return 0
	}
	min := 1.0
	conflict := false
	for _, d := range pack.Domains {
		if d.Quality.Score < min {
			min = d.Quality.Score
		}
		for _, f := range d.Quality.Flags {
			if f == model.EvidenceLowAgreement {
				conflict = true
			}
		}
	}
	if conflict {
		min *= ConflictDiscount
	}
	return round4(min)
}
