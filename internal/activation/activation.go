// Package activation is the shadow-safety controller: every attempt to
// leave shadow mode goes through one gate cascade with the kill-switch
// checked first. Denials never abort a run; the caller degrades to
// shadow and keeps going.
package activation

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/safety"
	"github.com/sells-group/decision-cli/internal/snapshot"
)

// ArtifactAudit is the audit trail's file name inside an activation
// bundle.
const ArtifactAudit = "activation_audit.json"

// Denial codes.
const (
	CodeActivationDenied  = "ACTIVATION_DENIED"
	CodeLiveIOBlocked     = "LIVE_IO_BLOCKED"
	CodeLiveWritesBlocked = "LIVE_WRITES_BLOCKED"
)

// Activation states. Anything denied lands in SHADOW_ONLY.
const (
	StateShadowOnly = "SHADOW_ONLY"
	StateBurnIn     = "BURN_IN"
	StateLimited    = "LIMITED"
	StateExpanded   = "EXPANDED"
)

// Burn-in caps and the per-tier confidence floors. Tier floors are
// deliberately stricter than the decision policy's own minimum.
const (
	HardMatchCap         = 10
	BurnInMinMatches     = 1
	BurnInMaxMatches     = 3
	BurnInDefaultMatches = 1

	BurnInConfidenceFloor   = 0.85
	LimitedConfidenceFloor  = 0.70
	ExpandedConfidenceFloor = 0.80
)

// Connector defaults applied when no whitelist is configured. Burn-in
// proves the live path, everything else defaults to recorded history.
const (
	DefaultConnector       = "recorded_provider"
	DefaultBurnInConnector = "real_provider"
)

// Verdict is one gate decision.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	State   string `json:"state"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// BatchRequest asks to run a capped activation batch.
type BatchRequest struct {
	Connector     string
	MatchCount    int
	ApprovalToken string
	PolicyPin     string
}

// DecisionRequest asks to activate a single decision.
type DecisionRequest struct {
	Connector   string
	Market      model.Market
	Confidence  float64
	PolicyFloor float64
}

// Gate evaluates activation requests against a frozen safety posture
// and the active policy version.
type Gate struct {
	posture       safety.Snapshot
	policyVersion string
}

// NewGate binds a posture snapshot and the policy version activations
// must be pinned to.
func NewGate(posture safety.Snapshot, policyVersion string) *Gate {
	return &Gate{posture: posture, policyVersion: policyVersion}
}

// CheckBatch runs the batch-level cascade: kill-switch, master flags,
// burn-in approval and pin, connector whitelist, match cap.
func (g *Gate) CheckBatch(req BatchRequest) Verdict {
	if v := g.preamble(); v != nil {
		return *v
	}
	mode := g.posture.ActivationMode

	if mode == safety.ModeBurnIn {
		if v := g.checkApproval(req.ApprovalToken, req.PolicyPin); v != nil {
			return *v
		}
	}

	if !g.connectorAllowed(req.Connector) {
		return deny(CodeActivationDenied, fmt.Sprintf("connector %q is not whitelisted for activation", req.Connector))
	}

	limit := g.MatchCap()
	if limit <= 0 {
		return deny(CodeActivationDenied, fmt.Sprintf("%s is not set (required for %s)", safety.EnvMaxMatches, mode))
	}
	if req.MatchCount > limit {
		return deny(CodeActivationDenied, fmt.Sprintf("match count %d exceeds %s cap %d", req.MatchCount, mode, limit))
	}

	return allow(mode)
}

// CheckDecision runs the per-decision cascade: the shared preamble,
// connector and market whitelists, then both confidence floors.
func (g *Gate) CheckDecision(req DecisionRequest) Verdict {
	if v := g.preamble(); v != nil {
		return *v
	}
	mode := g.posture.ActivationMode

	if !g.connectorAllowed(req.Connector) {
		return deny(CodeActivationDenied, fmt.Sprintf("connector %q is not whitelisted for activation", req.Connector))
	}
	if !g.marketAllowed(req.Market) {
		return deny(CodeActivationDenied, fmt.Sprintf("market %q is not whitelisted for activation", req.Market))
	}

	if req.Confidence < req.PolicyFloor {
		return deny(CodeActivationDenied, fmt.Sprintf("confidence %.3f below policy minimum %.3f", req.Confidence, req.PolicyFloor))
	}
	if floor := g.ConfidenceFloor(); req.Confidence < floor {
		return deny(CodeActivationDenied, fmt.Sprintf("confidence %.3f below %s minimum %.3f", req.Confidence, mode, floor))
	}

	return allow(mode)
}

// preamble is the shared head of both cascades. Order matters: the
// kill-switch always wins.
func (g *Gate) preamble() *Verdict {
	if g.posture.KillSwitch {
		return denyPtr(CodeActivationDenied, safety.EnvKillSwitch+" is enabled")
	}
	if !g.posture.ActivationEnabled {
		return denyPtr(CodeActivationDenied, safety.EnvActivationEnabled+" is not set")
	}
	mode := g.posture.ActivationMode
	if !safety.ValidMode(mode) {
		return denyPtr(CodeActivationDenied, fmt.Sprintf("%s must be burn_in, limited or expanded (got %q)", safety.EnvActivationMode, mode))
	}
	if !g.posture.LiveWritesAllowed {
		return denyPtr(CodeLiveWritesBlocked, safety.EnvLiveWritesAllowed+" is not set")
	}
	if mode == safety.ModeBurnIn && !g.posture.LiveIOAllowed {
		return denyPtr(CodeLiveIOBlocked, safety.EnvLiveIOAllowed+" is not set (required for burn-in)")
	}
	return nil
}

func (g *Gate) checkApproval(token, pin string) *Verdict {
	required := g.posture.ApprovalToken
	if required == "" {
		return denyPtr(CodeActivationDenied, safety.EnvApprovalToken+" is not set")
	}
	if token == "" || token != required {
		return denyPtr(CodeActivationDenied, "approval token missing or does not match")
	}
	if strings.TrimSpace(pin) == "" {
		return denyPtr(CodeActivationDenied, "policy version pin is missing")
	}
	if pin != g.policyVersion {
		return denyPtr(CodeActivationDenied, fmt.Sprintf("policy pin %q does not match active policy %q", pin, g.policyVersion))
	}
	return nil
}

func (g *Gate) connectorAllowed(connector string) bool {
	if len(g.posture.Connectors) > 0 {
		return slices.Contains(g.posture.Connectors, connector)
	}
	if g.posture.ActivationMode == safety.ModeBurnIn {
		return connector == DefaultBurnInConnector
	}
	return connector == DefaultConnector
}

func (g *Gate) marketAllowed(m model.Market) bool {
	if len(g.posture.Markets) > 0 {
		return slices.Contains(g.posture.Markets, string(m))
	}
	return m == model.Market1X2
}

// MatchCap returns the tier's effective match cap. Burn-in is pinned to
// 1-3 matches regardless of the env override.
func (g *Gate) MatchCap() int {
	v := g.posture.MaxMatches
	if g.posture.ActivationMode == safety.ModeBurnIn {
		if v == 0 {
			v = BurnInDefaultMatches
		}
		if v < BurnInMinMatches {
			v = BurnInMinMatches
		}
		if v > BurnInMaxMatches {
			v = BurnInMaxMatches
		}
		return v
	}
	if v > HardMatchCap {
		return HardMatchCap
	}
	return v
}

// ConfidenceFloor returns the tier's activation confidence floor,
// env-overridable per tier.
func (g *Gate) ConfidenceFloor() float64 {
	switch g.posture.ActivationMode {
	case safety.ModeBurnIn:
		if g.posture.BurnInMinConfidence > 0 {
			return g.posture.BurnInMinConfidence
		}
		return BurnInConfidenceFloor
	case safety.ModeExpanded:
		if g.posture.MinConfidence > 0 {
			return g.posture.MinConfidence
		}
		return ExpandedConfidenceFloor
	default:
		if g.posture.MinConfidence > 0 {
			return g.posture.MinConfidence
		}
		return LimitedConfidenceFloor
	}
}

// AuditRecord is one allow/deny in the activation trail. The posture is
// embedded with the approval token redacted.
type AuditRecord struct {
	RunID        string         `json:"run_id"`
	CreatedAtUTC string         `json:"created_at_utc"`
	Connector    string         `json:"connector"`
	State        string         `json:"state"`
	Allowed      bool           `json:"allowed"`
	Code         string         `json:"code,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	MatchID      string         `json:"match_id,omitempty"`
	Market       model.Market   `json:"market,omitempty"`
	Confidence   float64        `json:"confidence,omitempty"`
	Posture      map[string]any `json:"posture"`
}

// Audit builds the audit record for one verdict.
func (g *Gate) Audit(runID string, now time.Time, connector string, v Verdict) AuditRecord {
	return AuditRecord{
		RunID:        runID,
		CreatedAtUTC: snapshot.ISO(now),
		Connector:    connector,
		State:        v.State,
		Allowed:      v.Allowed,
		Code:         v.Code,
		Reason:       v.Reason,
		Posture:      g.posture.Fields(),
	}
}

// NewAuditRunID mints one activation audit run id.
func NewAuditRunID(now time.Time) string {
	return fmt.Sprintf("activation_%s_%s", now.UTC().Format(runIDTimeLayout), uuid.NewString()[:8])
}

// NewBurnInRunID mints one burn-in ops run id.
func NewBurnInRunID(now time.Time) string {
	return fmt.Sprintf("burn_in_ops_%s_%s", now.UTC().Format(runIDTimeLayout), uuid.NewString()[:8])
}

func allow(mode string) Verdict {
	return Verdict{Allowed: true, State: stateFor(mode)}
}

func deny(code, reason string) Verdict {
	return Verdict{State: StateShadowOnly, Code: code, Reason: reason}
}

func denyPtr(code, reason string) *Verdict {
	v := deny(code, reason)
	return &v
}

func stateFor(mode string) string {
	switch mode {
	case safety.ModeBurnIn:
		return StateBurnIn
	case safety.ModeLimited:
		return StateLimited
	case safety.ModeExpanded:
		return StateExpanded
	}
	return StateShadowOnly
}
