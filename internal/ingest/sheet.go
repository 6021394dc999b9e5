package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Fixture sheets carry one row per odds quote, identity columns repeated
// on every row. These are the columns a sheet cannot do without.
var requiredSheetColumns = []string{
	"match_id", "home_team", "away_team", "kickoff_utc",
	"market", "selection", "odds",
}

// sheetTimeLayouts are tried in order when parsing sheet timestamps.
// Spreadsheets rarely agree on one form.
var sheetTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

type sheetIndex map[string]int

func indexSheetHeader(header []string) (sheetIndex, error) {
	idx := make(sheetIndex, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			idx[h] = i
		}
	}
	for _, col := range requiredSheetColumns {
		if _, ok := idx[col]; !ok {
			return nil, eris.Errorf("ingest: fixture sheet is missing column %q", col)
		}
	}
	return idx, nil
}

func (ix sheetIndex) get(row []string, col string) string {
	i, ok := ix[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ParseSheet groups fixture sheet rows into per-match payloads. Rows for
// the same match_id merge into one MatchData; identity comes from the
// first row, state columns from the last row that fills them. Row numbers
// in errors are 1-based and count the header.
func ParseSheet(header []string, rows [][]string, defaultSource string) ([]MatchData, error) {
	ix, err := indexSheetHeader(header)
	if err != nil {
		return nil, err
	}

	byMatch := make(map[string]*MatchData)
	var order []string

	for n, row := range rows {
		rowNum := n + 2

		matchID := ix.get(row, "match_id")
		if matchID == "" {
			return nil, eris.Errorf("ingest: sheet row %d has no match_id", rowNum)
		}

		md, ok := byMatch[matchID]
		if !ok {
			kickoff, err := parseSheetTime(ix.get(row, "kickoff_utc"))
			if err != nil {
				return nil, eris.Wrapf(err, "ingest: sheet row %d kickoff", rowNum)
			}
			md = &MatchData{Identity: MatchIdentity{
				MatchID:     matchID,
				HomeTeam:    ix.get(row, "home_team"),
				AwayTeam:    ix.get(row, "away_team"),
				Competition: ix.get(row, "competition"),
				KickoffUTC:  kickoff,
			}}
			byMatch[matchID] = md
			order = append(order, matchID)
		}

		odds, err := strconv.ParseFloat(ix.get(row, "odds"), 64)
		if err != nil {
			return nil, eris.Errorf("ingest: sheet row %d has bad odds %q", rowNum, ix.get(row, "odds"))
		}

		source := ix.get(row, "source")
		if source == "" {
			source = defaultSource
		}

		var collected time.Time
		if raw := ix.get(row, "collected_at_utc"); raw != "" {
			collected, err = parseSheetTime(raw)
			if err != nil {
				return nil, eris.Wrapf(err, "ingest: sheet row %d collected_at", rowNum)
			}
		}

		md.Odds = append(md.Odds, OddsQuote{
			Market:         ix.get(row, "market"),
			Selection:      ix.get(row, "selection"),
			Odds:           odds,
			Source:         source,
			CollectedAtUTC: collected,
		})

		if state, ok := sheetState(ix, row); ok {
			md.State = state
		}
	}

	out := make([]MatchData, 0, len(order))
	for _, id := range order {
		out = append(out, *byMatch[id])
	}
	return out, nil
}

func sheetState(ix sheetIndex, row []string) (*MatchState, bool) {
	status := ix.get(row, "status")
	minute := ix.get(row, "minute")
	home := ix.get(row, "score_home")
	away := ix.get(row, "score_away")
	if status == "" && minute == "" && home == "" && away == "" {
		return nil, false
	}

	st := &MatchState{Status: status}
	if v, err := strconv.Atoi(minute); err == nil && minute != "" {
		st.Minute = &v
	}
	if v, err := strconv.Atoi(home); err == nil && home != "" {
		st.ScoreHome = &v
	}
	if v, err := strconv.Atoi(away); err == nil && away != "" {
		st.ScoreAway = &v
	}
	return st, true
}

func parseSheetTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, eris.New("empty timestamp")
	}
	for _, layout := range sheetTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unparseable timestamp %q", raw)
}
