package activation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/reports"
	"github.com/sells-group/decision-cli/internal/safety"
)

var activationNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func livePosture(mode string) safety.Snapshot {
	return safety.Snapshot{
		ActivationEnabled: true,
		ActivationMode:    mode,
		LiveIOAllowed:     true,
		LiveWritesAllowed: true,
		ApprovalToken:     "tok-1",
	}
}

func approvedBatch() BatchRequest {
	return BatchRequest{
		Connector:     DefaultBurnInConnector,
		MatchCount:    1,
		ApprovalToken: "tok-1",
		PolicyPin:     "v2.0.0",
	}
}

func TestCheckBatch_KillSwitchDominates(t *testing.T) {
	posture := livePosture(safety.ModeBurnIn)
	posture.KillSwitch = true
	gate := NewGate(posture, "v2.0.0")

	v := gate.CheckBatch(approvedBatch())

	assert.False(t, v.Allowed)
	assert.Equal(t, StateShadowOnly, v.State)
	assert.Equal(t, CodeActivationDenied, v.Code)
	assert.Contains(t, v.Reason, safety.EnvKillSwitch)
}

func TestCheckBatch_DefaultPostureDenied(t *testing.T) {
	gate := NewGate(safety.Snapshot{}, "v2.0.0")

	v := gate.CheckBatch(approvedBatch())

	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, safety.EnvActivationEnabled)
}

func TestCheckBatch_CascadeOrder(t *testing.T) {
	posture := safety.Snapshot{ActivationEnabled: true, ActivationMode: "full"}
	gate := NewGate(posture, "v2.0.0")
	v := gate.CheckBatch(approvedBatch())
	assert.Contains(t, v.Reason, safety.EnvActivationMode)

	posture.ActivationMode = safety.ModeBurnIn
	gate = NewGate(posture, "v2.0.0")
	v = gate.CheckBatch(approvedBatch())
	assert.Equal(t, CodeLiveWritesBlocked, v.Code)
	assert.Contains(t, v.Reason, safety.EnvLiveWritesAllowed)

	posture.LiveWritesAllowed = true
	gate = NewGate(posture, "v2.0.0")
	v = gate.CheckBatch(approvedBatch())
	assert.Equal(t, CodeLiveIOBlocked, v.Code)
	assert.Contains(t, v.Reason, safety.EnvLiveIOAllowed)
}

func TestCheckBatch_BurnInApproval(t *testing.T) {
	posture := livePosture(safety.ModeBurnIn)
	posture.ApprovalToken = ""
	gate := NewGate(posture, "v2.0.0")
	v := gate.CheckBatch(approvedBatch())
	assert.Contains(t, v.Reason, safety.EnvApprovalToken)

	posture.ApprovalToken = "tok-1"
	gate = NewGate(posture, "v2.0.0")

	req := approvedBatch()
	req.ApprovalToken = "wrong"
	v = gate.CheckBatch(req)
	assert.Contains(t, v.Reason, "approval token")

	req = approvedBatch()
	req.PolicyPin = ""
	v = gate.CheckBatch(req)
	assert.Contains(t, v.Reason, "pin is missing")

	req = approvedBatch()
	req.PolicyPin = "v1.0.0"
	v = gate.CheckBatch(req)
	assert.Contains(t, v.Reason, `"v1.0.0"`)
	assert.Contains(t, v.Reason, `"v2.0.0"`)

	v = gate.CheckBatch(approvedBatch())
	require.True(t, v.Allowed)
	assert.Equal(t, StateBurnIn, v.State)
	assert.Empty(t, v.Code)
}

func TestCheckBatch_ConnectorWhitelist(t *testing.T) {
	gate := NewGate(livePosture(safety.ModeBurnIn), "v2.0.0")

	req := approvedBatch()
	req.Connector = "sample_provider"
	v := gate.CheckBatch(req)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "sample_provider")

	posture := livePosture(safety.ModeBurnIn)
	posture.Connectors = []string{"sample_provider"}
	gate = NewGate(posture, "v2.0.0")
	v = gate.CheckBatch(req)
	assert.True(t, v.Allowed)

	// Outside burn-in the default whitelist is the recorded connector.
	posture = livePosture(safety.ModeLimited)
	posture.MaxMatches = 5
	gate = NewGate(posture, "v2.0.0")
	v = gate.CheckBatch(BatchRequest{Connector: DefaultConnector, MatchCount: 1})
	assert.True(t, v.Allowed)
	assert.Equal(t, StateLimited, v.State)
	assert.False(t, gate.CheckBatch(BatchRequest{Connector: "anything", MatchCount: 1}).Allowed)
}

func TestCheckBatch_BurnInMatchCap(t *testing.T) {
	gate := NewGate(livePosture(safety.ModeBurnIn), "v2.0.0")

	req := approvedBatch()
	req.MatchCount = 2
	v := gate.CheckBatch(req)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "exceeds burn_in cap 1")

	posture := livePosture(safety.ModeBurnIn)
	posture.MaxMatches = 5
	gate = NewGate(posture, "v2.0.0")
	req.MatchCount = 3
	assert.True(t, gate.CheckBatch(req).Allowed)
	req.MatchCount = 4
	assert.False(t, gate.CheckBatch(req).Allowed)
}

func TestCheckBatch_TierMatchCap(t *testing.T) {
	posture := livePosture(safety.ModeLimited)
	gate := NewGate(posture, "v2.0.0")

	v := gate.CheckBatch(BatchRequest{Connector: DefaultConnector, MatchCount: 1})
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, safety.EnvMaxMatches)

	posture.MaxMatches = 50
	gate = NewGate(posture, "v2.0.0")
	assert.True(t, gate.CheckBatch(BatchRequest{Connector: DefaultConnector, MatchCount: 10}).Allowed)
	assert.False(t, gate.CheckBatch(BatchRequest{Connector: DefaultConnector, MatchCount: 11}).Allowed)
}

func TestMatchCap_Clamps(t *testing.T) {
	posture := livePosture(safety.ModeBurnIn)
	assert.Equal(t, 1, NewGate(posture, "v2.0.0").MatchCap())

	posture.MaxMatches = 9
	assert.Equal(t, 3, NewGate(posture, "v2.0.0").MatchCap())

	posture = livePosture(safety.ModeExpanded)
	posture.MaxMatches = 25
	assert.Equal(t, 10, NewGate(posture, "v2.0.0").MatchCap())
}

func TestCheckDecision_Floors(t *testing.T) {
	gate := NewGate(livePosture(safety.ModeBurnIn), "v2.0.0")

	req := DecisionRequest{
		Connector:   DefaultBurnInConnector,
		Market:      model.Market1X2,
		Confidence:  0.80,
		PolicyFloor: 0.30,
	}
	v := gate.CheckDecision(req)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "burn_in minimum 0.850")

	req.Confidence = 0.90
	v = gate.CheckDecision(req)
	require.True(t, v.Allowed)
	assert.Equal(t, StateBurnIn, v.State)

	req.Confidence = 0.20
	v = gate.CheckDecision(req)
	assert.Contains(t, v.Reason, "policy minimum 0.300")
}

func TestCheckDecision_TierFloorOverride(t *testing.T) {
	posture := livePosture(safety.ModeBurnIn)
	posture.BurnInMinConfidence = 0.95
	gate := NewGate(posture, "v2.0.0")

	v := gate.CheckDecision(DecisionRequest{
		Connector:  DefaultBurnInConnector,
		Market:     model.Market1X2,
		Confidence: 0.90,
	})
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "0.950")
}

func TestCheckDecision_MarketWhitelist(t *testing.T) {
	gate := NewGate(livePosture(safety.ModeBurnIn), "v2.0.0")

	v := gate.CheckDecision(DecisionRequest{
		Connector:  DefaultBurnInConnector,
		Market:     model.MarketOU25,
		Confidence: 0.99,
	})
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "OU_2.5")

	posture := livePosture(safety.ModeBurnIn)
	posture.Markets = []string{string(model.MarketOU25)}
	gate = NewGate(posture, "v2.0.0")
	assert.True(t, gate.CheckDecision(DecisionRequest{
		Connector:  DefaultBurnInConnector,
		Market:     model.MarketOU25,
		Confidence: 0.99,
	}).Allowed)
	assert.False(t, gate.CheckDecision(DecisionRequest{
		Connector:  DefaultBurnInConnector,
		Market:     model.Market1X2,
		Confidence: 0.99,
	}).Allowed)
}

func TestConfidenceFloor_Defaults(t *testing.T) {
	assert.Equal(t, BurnInConfidenceFloor, NewGate(livePosture(safety.ModeBurnIn), "v2.0.0").ConfidenceFloor())
	assert.Equal(t, LimitedConfidenceFloor, NewGate(livePosture(safety.ModeLimited), "v2.0.0").ConfidenceFloor())
	assert.Equal(t, ExpandedConfidenceFloor, NewGate(livePosture(safety.ModeExpanded), "v2.0.0").ConfidenceFloor())

	posture := livePosture(safety.ModeLimited)
	posture.MinConfidence = 0.60
	assert.Equal(t, 0.60, NewGate(posture, "v2.0.0").ConfidenceFloor())
}

func TestAudit_RedactsToken(t *testing.T) {
	gate := NewGate(livePosture(safety.ModeBurnIn), "v2.0.0")
	v := gate.CheckBatch(approvedBatch())

	rec := gate.Audit("run-1", activationNow, DefaultBurnInConnector, v)

	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "2025-03-01T12:00:00Z", rec.CreatedAtUTC)
	assert.Equal(t, StateBurnIn, rec.State)
	assert.True(t, rec.Allowed)
	assert.Equal(t, true, rec.Posture["approval_token_set"])
	_, leaked := rec.Posture["approval_token"]
	assert.False(t, leaked)
}

func TestNewRunIDs(t *testing.T) {
	audit := NewAuditRunID(activationNow)
	burn := NewBurnInRunID(activationNow)

	assert.True(t, strings.HasPrefix(audit, "activation_20250301T120000Z_"))
	assert.True(t, strings.HasPrefix(burn, "burn_in_ops_20250301T120000Z_"))
	assert.Len(t, audit, len("activation_20250301T120000Z_")+8)
	assert.NotEqual(t, NewAuditRunID(activationNow), audit)
}

func TestSelectRollout_DeterministicPrefix(t *testing.T) {
	ids := []string{"m-3", "m-1", "m-2", "m-4"}

	assert.Empty(t, SelectRollout(ids, 0))
	assert.Empty(t, SelectRollout(nil, 50))

	half := SelectRollout(ids, 50)
	assert.Equal(t, map[string]bool{"m-1": true, "m-2": true}, half)
	assert.Equal(t, half, SelectRollout([]string{"m-4", "m-2", "m-1", "m-3"}, 50))

	all := SelectRollout(ids, 100)
	assert.Len(t, all, 4)
}

func TestDailyUsed_CountsTodayOnly(t *testing.T) {
	idx := reports.Index{ActivationRuns: []string{
		"activation_20250301T080000Z_aaaa0001",
		"activation_20250301T110000Z_aaaa0002",
		"activation_20250228T230000Z_bbbb0001",
		"legacy-run",
	}}

	assert.Equal(t, 2, DailyUsed(idx, activationNow))
}

func TestDailyRemaining_DefaultsToZero(t *testing.T) {
	idx := reports.Index{ActivationRuns: []string{"activation_20250301T080000Z_aaaa0001"}}

	gate := NewGate(livePosture(safety.ModeBurnIn), "v2.0.0")
	assert.Equal(t, 0, gate.DailyRemaining(idx, activationNow))

	posture := livePosture(safety.ModeBurnIn)
	posture.DailyMaxActivations = 3
	gate = NewGate(posture, "v2.0.0")
	assert.Equal(t, 2, gate.DailyRemaining(idx, activationNow))

	posture.DailyMaxActivations = 1
	gate = NewGate(posture, "v2.0.0")
	assert.Equal(t, 0, gate.DailyRemaining(idx, activationNow))
}
