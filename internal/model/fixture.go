package model

import "time"

// Team is a registry entry the resolver matches against.
type Team struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Active  bool     `json:"active" yaml:"active"`
}

// Fixture is a resolvable match. Created on first successful resolution
// or import; immutable thereafter.
type Fixture struct {
	ID          string    `json:"id" yaml:"id"`
	HomeTeamID  string    `json:"home_team_id" yaml:"home_team_id"`
	AwayTeamID  string    `json:"away_team_id" yaml:"away_team_id"`
	KickoffUTC  time.Time `json:"kickoff_utc" yaml:"kickoff_utc"`
	Competition string    `json:"competition,omitempty" yaml:"competition,omitempty"`
	Venue       string    `json:"venue,omitempty" yaml:"venue,omitempty"`
	Status      string    `json:"status,omitempty" yaml:"status,omitempty"`
}
