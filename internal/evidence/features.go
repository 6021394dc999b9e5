package evidence

import (
	"encoding/json"

	"github.com/sells-group/decision-cli/internal/model"
)

// Feature paths reported in Features.Missing when a subtree is absent.
const (
	PathTeamStrengthHome = "team_strength.home"
	PathTeamStrengthAway = "team_strength.away"
	PathHeadToHead       = "head_to_head"
	PathGoalsTrend       = "goals_trend"
)

// TeamStrength summarizes one side's per-game averages.
type TeamStrength struct {
	GoalsScored   float64 `json:"goals_scored"`
	GoalsConceded float64 `json:"goals_conceded"`
	ShotsPerGame  float64 `json:"shots_per_game"`
	PossessionAvg float64 `json:"possession_avg"`
}

// HeadToHead is the historical record between the two sides.
type HeadToHead struct {
	MatchesPlayed int `json:"matches_played"`
	HomeWins      int `json:"home_wins"`
	AwayWins      int `json:"away_wins"`
	Draws         int `json:"draws"`
}

// GoalsTrend holds recent scoring form for both sides.
type GoalsTrend struct {
	HomeScoredAvg   float64 `json:"home_scored_avg"`
	HomeConcededAvg float64 `json:"home_conceded_avg"`
	AwayScoredAvg   float64 `json:"away_scored_avg"`
	AwayConcededAvg float64 `json:"away_conceded_avg"`
}

// Features is the stats evidence in the form the market evaluators read.
// Nil subtrees were absent from the merged evidence; Missing lists their
// paths so gates can name exactly what was lacking.
type Features struct {
	HomeStrength *TeamStrength
	AwayStrength *TeamStrength
	H2H          *HeadToHead
	GoalsTrend   *GoalsTrend
	HasStats     bool
	Missing      []string
}

// Extract pulls market features from the pack's stats domain. Tolerant of
// partial data: whatever is present is typed, whatever is not lands in
// Missing.
func Extract(pack *model.EvidencePack) Features {
	var f Features

	stats, ok := pack.Domain(model.DomainStats)
	if !ok || len(stats.Data) == 0 {
		f.Missing = []string{PathTeamStrengthHome, PathTeamStrengthAway, PathHeadToHead, PathGoalsTrend}
		return f
	}
	f.HasStats = true

	strength := getMap(stats.Data, "team_strength")
	if home := getMap(strength, "home"); home != nil {
		f.HomeStrength = teamStrength(home)
	} else {
		f.Missing = append(f.Missing, PathTeamStrengthHome)
	}
	if away := getMap(strength, "away"); away != nil {
		f.AwayStrength = teamStrength(away)
	} else {
		f.Missing = append(f.Missing, PathTeamStrengthAway)
	}

	if h2h := getMap(stats.Data, "head_to_head"); h2h != nil {
		f.H2H = &HeadToHead{
			MatchesPlayed: getInt(h2h, "matches_played"),
			HomeWins:      getInt(h2h, "home_wins"),
			AwayWins:      getInt(h2h, "away_wins"),
			Draws:         getInt(h2h, "draws"),
		}
	} else {
		f.Missing = append(f.Missing, PathHeadToHead)
	}

	if trend := getMap(stats.Data, "goals_trend"); trend != nil {
		f.GoalsTrend = &GoalsTrend{
			HomeScoredAvg:   getFloat(trend, "home_scored_avg"),
			HomeConcededAvg: getFloat(trend, "home_conceded_avg"),
			AwayScoredAvg:   getFloat(trend, "away_scored_avg"),
			AwayConcededAvg: getFloat(trend, "away_conceded_avg"),
		}
	} else {
		f.Missing = append(f.Missing, PathGoalsTrend)
	}

	return f
}

// HasPath reports whether the named feature path was extracted.
func (f Features) HasPath(path string) bool {
	for _, m := range f.Missing {
		if m == path {
			return false
		}
	}
	return f.HasStats
}

func teamStrength(m map[string]any) *TeamStrength {
	return &TeamStrength{
		GoalsScored:   getFloat(m, "goals_scored"),
		GoalsConceded: getFloat(m, "goals_conceded"),
		ShotsPerGame:  getFloat(m, "shots_per_game"),
		PossessionAvg: getFloat(m, "possession_avg"),
	}
}

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]any)
	return sub
}

func getFloat(m map[string]any, key string) float64 {
	f, _ := toFloat(m[key])
	return f
}

func getInt(m map[string]any, key string) int {
	switch n := m[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return 0
}
