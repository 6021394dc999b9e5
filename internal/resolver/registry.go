package resolver

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/decision-cli/internal/model"
)

// Registry holds the known teams and fixtures the resolver matches against.
// Lookup maps are built once at load time; the registry is read-only after.
type Registry struct {
	teams    []model.Team
	fixtures []model.Fixture

	byName  map[string][]model.Team // normalized canonical name -> active teams
	byAlias map[string][]model.Team // normalized alias -> active teams
}

// LoadRegistry reads a registry YAML file with top-level "teams" and
// "fixtures" keys.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: read registry %s", path)
	}

	var wrapper struct {
		Teams    []model.Team    `yaml:"teams"`
		Fixtures []model.Fixture `yaml:"fixtures"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "resolver: parse registry")
	}

	return NewRegistry(wrapper.Teams, wrapper.Fixtures), nil
}

// NewRegistry builds a registry from in-memory teams and fixtures.
// Inactive teams are indexed nowhere and can never resolve.
func NewRegistry(teams []model.Team, fixtures []model.Fixture) *Registry {
	r := &Registry{
		teams:    teams,
		fixtures: fixtures,
		byName:   make(map[string][]model.Team),
		byAlias:  make(map[string][]model.Team),
	}
	for _, t := range teams {
		if !t.Active {
			continue
		}
		if key := NormalizeName(t.Name); key != "" {
			r.byName[key] = append(r.byName[key], t)
		}
		for _, alias := range t.Aliases {
			if key := NormalizeName(alias); key != "" {
				r.byAlias[key] = append(r.byAlias[key], t)
			}
		}
	}
	return r
}

// TeamsByName returns active teams whose canonical name normalizes to the
// same key as the query.
func (r *Registry) TeamsByName(query string) []model.Team {
	return r.byName[NormalizeName(query)]
}

// TeamsByAlias returns active teams with an alias matching the query.
func (r *Registry) TeamsByAlias(query string) []model.Team {
	return r.byAlias[NormalizeName(query)]
}

// FixturesBetween returns fixtures for the given home/away pairing whose
// kickoff falls inside [from, to], ordered as stored.
func (r *Registry) FixturesBetween(homeID, awayID string, from, to time.Time) []model.Fixture {
	var out []model.Fixture
	for _, f := range r.fixtures {
		if f.HomeTeamID != homeID || f.AwayTeamID != awayID {
			continue
		}
		if f.KickoffUTC.Before(from) || f.KickoffUTC.After(to) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Fixture returns the fixture with the given id.
func (r *Registry) Fixture(id string) (model.Fixture, bool) {
	for _, f := range r.fixtures {
		if f.ID == id {
			return f, true
		}
	}
	return model.Fixture{}, false
}

// Teams returns all registry teams, active or not.
func (r *Registry) Teams() []model.Team { return r.teams }

// Fixtures returns all registry fixtures.
func (r *Registry) Fixtures() []model.Fixture { return r.fixtures }
