// Package delta compares the latest recorded snapshot against the
// latest live-shadow snapshot per fixture: timing deltas and checksum
// matches only, no good/bad judgment.
package delta

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/decision-cli/internal/snapshot"
	"github.com/sells-group/decision-cli/internal/store"
)

// ArtifactCompare is the comparison report's file name inside a burn-in
// bundle.
const ArtifactCompare = "delta_compare_report.json"

// Pairing status per fixture.
const (
	StatusComplete   = "COMPLETE"
	StatusIncomplete = "INCOMPLETE"
)

// Report is one fixture's delta metrics. Optional fields stay nil when
// either side lacks the data to compute them.
type Report struct {
	FixtureID           string   `json:"fixture_id"`
	Status              string   `json:"status"`
	RecordedSnapshotID  string   `json:"recorded_snapshot_id,omitempty"`
	LiveSnapshotID      string   `json:"live_snapshot_id,omitempty"`
	ObservedAtDeltaMS   *float64 `json:"observed_at_delta_ms,omitempty"`
	FetchLatencyDeltaMS *float64 `json:"fetch_latency_delta_ms,omitempty"`
	PayloadMatch        *bool    `json:"payload_match,omitempty"`
	EnvelopeMatch       *bool    `json:"envelope_match,omitempty"`
}

// CompareReport is the delta comparison artifact: one entry per fixture
// seen on either side, sorted by fixture id.
type CompareReport struct {
	ComputedAtUTC string   `json:"computed_at_utc"`
	Complete      int      `json:"complete"`
	Incomplete    int      `json:"incomplete"`
	Total         int      `json:"total"`
	Reports       []Report `json:"reports"`
}

type side struct {
	env        snapshot.Envelope
	observedAt time.Time
}

// Compare pairs the latest recorded and latest live-shadow snapshot per
// match id and computes their deltas. Legacy rows parse with envelope
// defaults, so their checksum matches stay unset rather than false.
func Compare(rows []store.SnapshotRecord, now time.Time) CompareReport {
	recorded := latestPerFixture(rows, snapshot.TypeRecorded)
	live := latestPerFixture(rows, snapshot.TypeLiveShadow)

	ids := make(map[string]struct{}, len(recorded)+len(live))
	for id := range recorded {
		ids[id] = struct{}{}
	}
	for id := range live {
		ids[id] = struct{}{}
	}
	ordered := make([]string, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	out := CompareReport{
		ComputedAtUTC: snapshot.ISO(now),
		Reports:       make([]Report, 0, len(ordered)),
	}
	for _, id := range ordered {
		rec, hasRec := recorded[id]
		liv, hasLive := live[id]
		r := compareOne(id, rec, hasRec, liv, hasLive)
		if r.Status == StatusComplete {
			out.Complete++
		} else {
			out.Incomplete++
		}
		out.Reports = append(out.Reports, r)
	}
	out.Total = len(out.Reports)
	return out
}

// latestPerFixture keeps the newest snapshot by observed time for each
// match id, filtered to one snapshot type.
func latestPerFixture(rows []store.SnapshotRecord, snapshotType string) map[string]side {
	latest := make(map[string]side)
	for _, row := range rows {
		if row.SnapshotType != snapshotType || row.MatchID == "" {
			continue
		}
		env, _ := snapshot.ParseStored(row.Body, row.CreatedAt, snapshot.ParseCallbacks{})
		observed := parseISO(env.ObservedAtUTC, row.CreatedAt)
		cur, ok := latest[row.MatchID]
		if !ok || observed.After(cur.observedAt) {
			latest[row.MatchID] = side{env: env, observedAt: observed}
		}
	}
	return latest
}

func compareOne(fixtureID string, rec side, hasRec bool, live side, hasLive bool) Report {
	r := Report{FixtureID: fixtureID, Status: StatusIncomplete}
	if hasRec {
		r.RecordedSnapshotID = rec.env.SnapshotID
	}
	if hasLive {
		r.LiveSnapshotID = live.env.SnapshotID
	}
	if !hasRec || !hasLive {
		return r
	}
	r.Status = StatusComplete

	observedDelta := round2(live.observedAt.Sub(rec.observedAt).Seconds() * 1000)
	r.ObservedAtDeltaMS = &observedDelta

	if rec.env.LatencyMS != nil && live.env.LatencyMS != nil {
		d := round2(*live.env.LatencyMS - *rec.env.LatencyMS)
		r.FetchLatencyDeltaMS = &d
	}
	if rec.env.PayloadChecksum != "" && live.env.PayloadChecksum != "" {
		m := rec.env.PayloadChecksum == live.env.PayloadChecksum
		r.PayloadMatch = &m
	}
	if rec.env.EnvelopeChecksum != "" && live.env.EnvelopeChecksum != "" {
		m := rec.env.EnvelopeChecksum == live.env.EnvelopeChecksum
		r.EnvelopeMatch = &m
	}
	return r
}

func parseISO(s string, fallback time.Time) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fallback.UTC()
	}
	return t
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
