// Package safety freezes the activation and live-IO posture read from
// the environment. Every flag defaults to its off value, and the
// snapshot is taken once per run so a mid-run env change can never flip
// a write decision.
package safety

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names. None of these are read anywhere else;
// the rest of the codebase works off the Snapshot.
const (
	EnvKillSwitch            = "ACTIVATION_KILL_SWITCH"
	EnvActivationEnabled     = "ACTIVATION_ENABLED"
	EnvActivationMode        = "ACTIVATION_MODE"
	EnvLiveIOAllowed         = "LIVE_IO_ALLOWED"
	EnvLiveWritesAllowed     = "LIVE_WRITES_ALLOWED"
	EnvSnapshotWritesAllowed = "SNAPSHOT_WRITES_ALLOWED"
	EnvApprovalToken         = "ACTIVATION_APPROVAL_TOKEN"
	EnvPolicyVersionPin      = "POLICY_VERSION_PIN"
	EnvConnectors            = "ACTIVATION_CONNECTORS"
	EnvMarkets               = "ACTIVATION_MARKETS"
	EnvMaxMatches            = "ACTIVATION_MAX_MATCHES"
	EnvMinConfidence         = "ACTIVATION_MIN_CONFIDENCE"
	EnvBurnInMinConfidence   = "ACTIVATION_MIN_CONFIDENCE_BURN_IN"
	EnvRolloutPct            = "ACTIVATION_ROLLOUT_PCT"
	EnvDailyMaxActivations   = "ACTIVATION_DAILY_MAX_ACTIVATIONS"
)

// Activation modes. Anything else is treated as shadow-only.
const (
	ModeBurnIn   = "burn_in"
	ModeLimited  = "limited"
	ModeExpanded = "expanded"
)

// ValidMode reports whether mode names a real activation mode.
func ValidMode(mode string) bool {
	switch mode {
	case ModeBurnIn, ModeLimited, ModeExpanded:
		return true
	}
	return false
}

// Snapshot is the immutable per-run safety posture. Numeric overrides
// stay zero when unset; the activation tiers apply their own defaults.
type Snapshot struct {
	KillSwitch            bool
	ActivationEnabled     bool
	ActivationMode        string
	LiveIOAllowed         bool
	LiveWritesAllowed     bool
	SnapshotWritesAllowed bool
	ApprovalToken         string
	PolicyVersionPin      string
	Connectors            []string
	Markets               []string
	MaxMatches            int
	MinConfidence         float64
	BurnInMinConfidence   float64
	RolloutPct            float64
	DailyMaxActivations   int
}

// FromEnv captures the current posture.
func FromEnv() Snapshot {
	return Snapshot{
		KillSwitch:            flag(os.Getenv(EnvKillSwitch)),
		ActivationEnabled:     flag(os.Getenv(EnvActivationEnabled)),
		ActivationMode:        strings.ToLower(strings.TrimSpace(os.Getenv(EnvActivationMode))),
		LiveIOAllowed:         flag(os.Getenv(EnvLiveIOAllowed)),
		LiveWritesAllowed:     flag(os.Getenv(EnvLiveWritesAllowed)),
		SnapshotWritesAllowed: flag(os.Getenv(EnvSnapshotWritesAllowed)),
		ApprovalToken:         strings.TrimSpace(os.Getenv(EnvApprovalToken)),
		PolicyVersionPin:      strings.TrimSpace(os.Getenv(EnvPolicyVersionPin)),
		Connectors:            csv(os.Getenv(EnvConnectors)),
		Markets:               csv(os.Getenv(EnvMarkets)),
		MaxMatches:            intValue(os.Getenv(EnvMaxMatches), 0),
		MinConfidence:         floatValue(os.Getenv(EnvMinConfidence), 0),
		BurnInMinConfidence:   floatValue(os.Getenv(EnvBurnInMinConfidence), 0),
		RolloutPct:            clampPct(floatValue(os.Getenv(EnvRolloutPct), 0)),
		DailyMaxActivations:   intValue(os.Getenv(EnvDailyMaxActivations), 0),
	}
}

// Fields renders the posture for audit records and logs. The approval
// token never leaves the snapshot; only its presence is reported.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"kill_switch":             s.KillSwitch,
		"activation_enabled":      s.ActivationEnabled,
		"activation_mode":         s.ActivationMode,
		"live_io_allowed":         s.LiveIOAllowed,
		"live_writes_allowed":     s.LiveWritesAllowed,
		"snapshot_writes_allowed": s.SnapshotWritesAllowed,
		"approval_token_set":      s.ApprovalToken != "",
		"policy_version_pin":      s.PolicyVersionPin,
		"connectors":              s.Connectors,
		"markets":                 s.Markets,
		"max_matches":             s.MaxMatches,
		"min_confidence":          s.MinConfidence,
		"burn_in_min_confidence":  s.BurnInMinConfidence,
		"rollout_pct":             s.RolloutPct,
		"daily_max_activations":   s.DailyMaxActivations,
	}
}

func flag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func csv(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intValue(v string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func floatValue(v string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}

func clampPct(v float64) float64 {
	if v > 100 {
		return 100
	}
	return v
}
