package resolver

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/decision-cli/internal/model"
)

// Window defaults, in hours. With a kickoff hint the caller may widen or
// narrow the window; without one the search is bounded around now.
const (
	DefaultWindowHours = 24
	NoHintWindowHours  = 72
)

// Resolution notes, appended in evaluation order. Side notes carry a
// HOME_ or AWAY_ prefix.
const (
	NoteNoKickoffHint       = "NO_KICKOFF_HINT_USING_BOUNDED_WINDOW"
	NoteNoMatchInWindow     = "NO_MATCH_IN_WINDOW"
	NoteMultipleInWindow    = "MULTIPLE_MATCHES_IN_WINDOW"
	noteSideNotFound        = "TEAM_NOT_FOUND"
	noteSideAmbiguous       = "TEAM_AMBIGUOUS"
	noteSideResolvedByAlias = "RESOLVED_VIA_ALIAS"
)

// Query identifies a match by free-form team names plus an optional
// kickoff hint.
type Query struct {
	Home        string     `json:"home"`
	Away        string     `json:"away"`
	KickoffHint *time.Time `json:"kickoff_hint,omitempty"`
	WindowHours int        `json:"window_hours,omitempty"` // 0 = DefaultWindowHours
}

// Resolution is the resolver's verdict. Ambiguity is a first-class outcome,
// not an error: when several teams or fixtures could match, Candidates lists
// their ids (team ids for side ambiguity, fixture ids for window ambiguity)
// and the caller decides what to do.
type Resolution struct {
	Status     model.ResolveStatus `json:"status"`
	MatchID    string              `json:"match_id,omitempty"`
	HomeTeamID string              `json:"home_team_id,omitempty"`
	AwayTeamID string              `json:"away_team_id,omitempty"`
	Candidates []string            `json:"candidates,omitempty"`
	Notes      []string            `json:"notes,omitempty"`
}

// Resolver maps team-identity queries to fixture ids against a registry.
type Resolver struct {
	reg *Registry

	// nowFunc allows tests to control the no-hint window.
	nowFunc func() time.Time
}

// New creates a Resolver over the given registry.
func New(reg *Registry) *Resolver {
	return &Resolver{reg: reg, nowFunc: time.Now}
}

// Resolve maps a query to exactly one fixture, or reports why it could not.
// Both sides must resolve to a unique team before the fixture window is
// searched; a failed side short-circuits the window search entirely.
func (r *Resolver) Resolve(q Query) Resolution {
	home := r.resolveSide(q.Home, "HOME_")
	away := r.resolveSide(q.Away, "AWAY_")

	res := Resolution{
		HomeTeamID: home.teamID,
		AwayTeamID: away.teamID,
		Notes:      append(home.notes, away.notes...),
	}
	res.Candidates = append(res.Candidates, home.candidates...)
	res.Candidates = append(res.Candidates, away.candidates...)

	// A missing team is a harder failure than an ambiguous one.
	switch {
	case home.status == model.ResolveNotFound || away.status == model.ResolveNotFound:
		res.Status = model.ResolveNotFound
		return r.logged(q, res)
	case home.status == model.ResolveAmbiguous || away.status == model.ResolveAmbiguous:
		res.Status = model.ResolveAmbiguous
		sort.Strings(res.Candidates)
		return r.logged(q, res)
	}

	from, to, windowNotes := r.window(q)
	res.Notes = append(res.Notes, windowNotes...)

	fixtures := r.reg.FixturesBetween(home.teamID, away.teamID, from, to)
	switch len(fixtures) {
	case 0:
		res.Status = model.ResolveNotFound
		res.Notes = append(res.Notes, NoteNoMatchInWindow)
	case 1:
		res.Status = model.ResolveResolved
		res.MatchID = fixtures[0].ID
	default:
		res.Status = model.ResolveAmbiguous
		for _, f := range fixtures {
			res.Candidates = append(res.Candidates, f.ID)
		}
		sort.Strings(res.Candidates)
		res.Notes = append(res.Notes, NoteMultipleInWindow)
	}
	return r.logged(q, res)
}

// sideResult is one team side's resolution before prefixing.
type sideResult struct {
	teamID     string
	status     model.ResolveStatus
	candidates []string
	notes      []string
}

// resolveSide resolves one team name: exact normalized name first, aliases
// second. Notes and candidate ids are prefixed/collected for the caller.
func (r *Resolver) resolveSide(name, prefix string) sideResult {
	teams := r.reg.TeamsByName(name)
	if len(teams) == 0 {
		teams = r.reg.TeamsByAlias(name)
		if len(teams) == 1 {
			return sideResult{
				teamID: teams[0].ID,
				status: model.ResolveResolved,
				notes:  []string{prefix + noteSideResolvedByAlias},
			}
		}
	}

	switch len(teams) {
	case 0:
		return sideResult{
			status: model.ResolveNotFound,
			notes:  []string{prefix + noteSideNotFound},
		}
	case 1:
		return sideResult{teamID: teams[0].ID, status: model.ResolveResolved}
	default:
		ids := make([]string, 0, len(teams))
		for _, t := range teams {
			ids = append(ids, t.ID)
		}
		return sideResult{
			status:     model.ResolveAmbiguous,
			candidates: ids,
			notes:      []string{prefix + noteSideAmbiguous},
		}
	}
}

// window computes the kickoff search window for a query.
func (r *Resolver) window(q Query) (from, to time.Time, notes []string) {
	if q.KickoffHint != nil {
		hours := q.WindowHours
		if hours <= 0 {
			hours = DefaultWindowHours
		}
		d := time.Duration(hours) * time.Hour
		return q.KickoffHint.Add(-d), q.KickoffHint.Add(d), nil
	}
	now := r.nowFunc().UTC()
	d := NoHintWindowHours * time.Hour
	return now.Add(-d), now.Add(d), []string{NoteNoKickoffHint}
}

func (r *Resolver) logged(q Query, res Resolution) Resolution {
	zap.L().Debug("resolve",
		zap.String("home", q.Home),
		zap.String("away", q.Away),
		zap.String("status", string(res.Status)),
		zap.String("match_id", res.MatchID),
		zap.Strings("notes", res.Notes),
	)
	return res
}
