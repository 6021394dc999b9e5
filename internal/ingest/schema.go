package ingest

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/snapshot"
)

// MatchIdentity is the canonical, source-agnostic identity of a match.
type MatchIdentity struct {
	MatchID     string    `json:"match_id"`
	HomeTeam    string    `json:"home_team"`
	AwayTeam    string    `json:"away_team"`
	Competition string    `json:"competition,omitempty"`
	KickoffUTC  time.Time `json:"kickoff_utc"`
}

// OddsQuote is a single decimal-odds quote for a market selection at a
// point in time.
type OddsQuote struct {
	Market         string    `json:"market"`
	Selection      string    `json:"selection"`
	Odds           float64   `json:"odds"`
	Source         string    `json:"source"`
	CollectedAtUTC time.Time `json:"collected_at_utc"`
}

// MatchState is the live or final match state, all fields optional
// except status.
type MatchState struct {
	Minute    *int   `json:"minute,omitempty"`
	ScoreHome *int   `json:"score_home,omitempty"`
	ScoreAway *int   `json:"score_away,omitempty"`
	Status    string `json:"status"`
}

// MatchData is the full normalized payload for one match: identity, odds
// quotes, and optional state. Provider exports and fixture sheets both
// parse into this form before storage.
type MatchData struct {
	Identity MatchIdentity `json:"identity"`
	Odds     []OddsQuote   `json:"odds"`
	State    *MatchState   `json:"state,omitempty"`
}

// Validate checks the identity and quote fields a stored payload cannot
// do without.
func (d MatchData) Validate() error {
	if d.Identity.MatchID == "" {
		return eris.New("ingest: payload has no match_id")
	}
	if d.Identity.HomeTeam == "" || d.Identity.AwayTeam == "" {
		return eris.Errorf("ingest: match %s is missing a team name", d.Identity.MatchID)
	}
	if d.Identity.KickoffUTC.IsZero() {
		return eris.Errorf("ingest: match %s has no kickoff time", d.Identity.MatchID)
	}
	for i, q := range d.Odds {
		if q.Market == "" || q.Selection == "" {
			return eris.Errorf("ingest: match %s quote %d is missing market or selection", d.Identity.MatchID, i)
		}
		if q.Odds <= 0 {
			return eris.Errorf("ingest: match %s quote %d has non-positive odds %v", d.Identity.MatchID, i, q.Odds)
		}
	}
	return nil
}

// ObservedAt returns the newest quote collection time, or zero when no
// quote carries one. This is the observation instant recorded payloads
// report for freshness, not the import time.
func (d MatchData) ObservedAt() time.Time {
	var latest time.Time
	for _, q := range d.Odds {
		if q.CollectedAtUTC.After(latest) {
			latest = q.CollectedAtUTC
		}
	}
	return latest
}

// ToPayload converts the match data into the fixtures-domain payload map
// that the evidence aggregator reads back. The map is built from the
// match data alone, so re-importing the same data produces byte-identical
// canonical JSON and collapses to the same snapshot.
func (d MatchData) ToPayload(sourceName string) (map[string]any, error) {
	sum, err := Checksum(d)
	if err != nil {
		return nil, err
	}

	quotes := make([]map[string]any, 0, len(d.Odds))
	for _, q := range d.Odds {
		quotes = append(quotes, map[string]any{
			"market":           q.Market,
			"selection":        q.Selection,
			"odds":             q.Odds,
			"source":           q.Source,
			"collected_at_utc": snapshot.ISO(q.CollectedAtUTC),
		})
	}

	data := map[string]any{
		"match_id":    d.Identity.MatchID,
		"home_team":   d.Identity.HomeTeam,
		"away_team":   d.Identity.AwayTeam,
		"kickoff_utc": snapshot.ISO(d.Identity.KickoffUTC),
		"odds":        quotes,
	}
	if d.Identity.Competition != "" {
		data["competition"] = d.Identity.Competition
	}
	if d.State != nil {
		data["state"] = stateMap(*d.State)
	}

	payload := map[string]any{
		"match_id":          d.Identity.MatchID,
		"domain":            model.DomainFixtures,
		"source":            sourceName,
		"ingested_checksum": sum,
		"data":              data,
	}
	if observed := d.ObservedAt(); !observed.IsZero() {
		payload["fetched_at_utc"] = snapshot.ISO(observed)
	}
	return payload, nil
}

func stateMap(s MatchState) map[string]any {
	m := map[string]any{"status": s.Status}
	if s.Minute != nil {
		m["minute"] = *s.Minute
	}
	if s.ScoreHome != nil {
		m["score_home"] = *s.ScoreHome
	}
	if s.ScoreAway != nil {
		m["score_away"] = *s.ScoreAway
	}
	return m
}
