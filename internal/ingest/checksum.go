package ingest

import (
	"sort"

	"github.com/sells-group/decision-cli/internal/snapshot"
)

// QuoteChecksum hashes the stable fields of a single odds quote.
func QuoteChecksum(q OddsQuote) (string, error) {
	stable := map[string]any{
		"market":           q.Market,
		"selection":        q.Selection,
		"odds":             q.Odds,
		"source":           q.Source,
		"collected_at_utc": snapshot.ISO(q.CollectedAtUTC),
	}
	canonical, err := snapshot.CanonicalJSON(stable)
	if err != nil {
		return "", err
	}
	return snapshot.SHA256Hex(canonical), nil
}

// Checksum is the deterministic ingested checksum: SHA-256 over the
// identity, the sorted per-quote checksums, and the state. Quote order
// in the file never shifts it.
func Checksum(d MatchData) (string, error) {
	sums := make([]string, 0, len(d.Odds))
	for _, q := range d.Odds {
		s, err := QuoteChecksum(q)
		if err != nil {
			return "", err
		}
		sums = append(sums, s)
	}
	sort.Strings(sums)

	identity := map[string]any{
		"match_id":    d.Identity.MatchID,
		"home_team":   d.Identity.HomeTeam,
		"away_team":   d.Identity.AwayTeam,
		"competition": d.Identity.Competition,
		"kickoff_utc": snapshot.ISO(d.Identity.KickoffUTC),
	}

	var state any
	if d.State != nil {
		state = stateMap(*d.State)
	}

	stable := map[string]any{
		"identity":       identity,
		"odds_checksums": sums,
		"state":          state,
	}
	canonical, err := snapshot.CanonicalJSON(stable)
	if err != nil {
		return "", err
	}
	return snapshot.SHA256Hex(canonical), nil
}
