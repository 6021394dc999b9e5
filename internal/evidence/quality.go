package evidence

import (
	"math"
	"time"

	"github.com/sells-group/decision-cli/internal/model"
)

// Quality thresholds. A domain passes when its score clears PassScore and
// no critical flag fired.
const (
	PassScore      = 0.5
	staleThreshold = 0.5
)

// DomainSpec configures quality assessment for one evidence domain.
type DomainSpec struct {
	Required   []string `yaml:"required" mapstructure:"required"`
	MinSources int      `yaml:"min_sources" mapstructure:"min_sources"`
}

// Config holds aggregator settings for all domains. A NumericTolerance of
// zero or less means the package default.
type Config struct {
	FreshnessWindow  time.Duration         `yaml:"freshness_window" mapstructure:"freshness_window"`
	NumericTolerance float64               `yaml:"numeric_tolerance" mapstructure:"numeric_tolerance"`
	Domains          map[string]DomainSpec `yaml:"domains" mapstructure:"domains"`
}

// DefaultConfig returns the built-in domain requirements: fixtures need the
// identity fields, stats need the feature subtrees the markets read.
func DefaultConfig() Config {
	return Config{
		FreshnessWindow:  7 * 24 * time.Hour,
		NumericTolerance: NumericTolerance,
		Domains: map[string]DomainSpec{
			model.DomainFixtures: {
				Required:   []string{"home_team_id", "away_team_id", "kickoff_utc"},
				MinSources: 1,
			},
			model.DomainStats: {
				Required:   []string{"team_strength", "head_to_head", "goals_trend"},
				MinSources: 1,
			},
		},
	}
}

// spec returns the domain's spec, falling back to a single-source,
// no-required-fields default for unknown domains.
func (c Config) spec(domain string) DomainSpec {
	if s, ok := c.Domains[domain]; ok {
		return s
	}
	return DomainSpec{MinSources: 1}
}

// AssessQuality scores one domain's merged evidence. The score averages a
// freshness component (linear 1 -> 0 across the freshness window, measured
// on the newest source) and a completeness component (required keys present
// in the merged data). No sources at all is critical and scores zero.
func AssessQuality(domain string, merged map[string]any, payloads []model.SourcePayload, cfg Config, now time.Time) model.QualityReport {
	spec := cfg.spec(domain)

	if len(payloads) == 0 {
		return model.QualityReport{
			Passed: false,
			Score:  0,
			Flags:  []model.EvidenceFlag{model.EvidenceNoSources},
		}
	}

	var flags []model.EvidenceFlag
	if len(payloads) < spec.MinSources {
		flags = append(flags, model.EvidenceInsufficientSources)
	}

	freshness := freshnessScore(payloads, cfg.FreshnessWindow, now)
	if freshness < staleThreshold {
		flags = append(flags, model.EvidenceStaleData)
	}

	completeness := completenessScore(merged, spec.Required)
	if completeness < 1 {
		flags = append(flags, model.EvidenceIncompleteData)
	}

	score := round4((freshness + completeness) / 2)

	passed := score >= PassScore
	for _, f := range flags {
		if f.IsCritical() {
			passed = false
		}
	}

	return model.QualityReport{Passed: passed, Score: score, Flags: flags}
}

// freshnessScore decays linearly from 1 at age zero to 0 at the window edge,
// using the newest payload's fetch time.
func freshnessScore(payloads []model.SourcePayload, window time.Duration, now time.Time) float64 {
	if window <= 0 {
		window = DefaultConfig().FreshnessWindow
	}
	newest := payloads[0].FetchedAt
	for _, p := range payloads[1:] {
		if p.FetchedAt.After(newest) {
			newest = p.FetchedAt
		}
	}
	if newest.IsZero() {
		return 0
	}
	age := now.Sub(newest)
	if age <= 0 {
		return 1
	}
	score := 1 - float64(age)/float64(window)
	return math.Max(0, score)
}

// completenessScore is the fraction of required top-level keys present with
// non-nil values. No requirements means trivially complete.
func completenessScore(merged map[string]any, required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	present := 0
	for _, key := range required {
		if v, ok := merged[key]; ok && v != nil {
			present++
		}
	}
	return float64(present) / float64(len(required))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
