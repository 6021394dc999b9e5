// Package ops emits the structured operational event stream: run
// lifecycle, ingestion provenance, evaluation summaries, guardrail
// triggers and snapshot integrity mismatches. Events are plain zap
// records with a fixed event field, so log scrapers can key on them
// without parsing messages.
package ops

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Event names.
const (
	EventRunStart           = "run_start"
	EventRunEnd             = "run_end"
	EventIngestionSource    = "ingestion_source"
	EventEvaluationSummary  = "evaluation_summary"
	EventGuardrailTrigger   = "guardrail_trigger"
	EventIntegrityMismatch  = "snapshot_integrity_mismatch"
	EventActivationAudit    = "activation_audit"
	EventLiveBlockedByFlag  = "live_blocked_by_flag"
	EventRetentionPrune     = "retention_prune"
	EventMeasurementSummary = "measurement_summary"
)

// RunStart logs the start of a pipeline run and returns the start time
// for the matching RunEnd.
func RunStart(runID, connector, matchID string) time.Time {
	zap.L().Info("ops: "+EventRunStart,
		zap.String("event", EventRunStart),
		zap.String("run_id", runID),
		zap.String("connector", connector),
		zap.String("match_id", matchID),
	)
	return time.Now()
}

// RunEnd logs the end of a run with its duration. A non-empty errText
// marks the run failed without changing the event shape.
func RunEnd(runID, connector, matchID string, started time.Time, errText string) {
	fields := []zap.Field{
		zap.String("event", EventRunEnd),
		zap.String("run_id", runID),
		zap.String("connector", connector),
		zap.String("match_id", matchID),
		zap.Float64("duration_seconds", round4(time.Since(started).Seconds())),
	}
	if errText != "" {
		fields = append(fields, zap.String("error", errText))
		zap.L().Warn("ops: "+EventRunEnd, fields...)
		return
	}
	zap.L().Info("ops: "+EventRunEnd, fields...)
}

// IngestionSource records which provenance class fed a fixture.
func IngestionSource(connector, source, matchID string) {
	zap.L().Info("ops: "+EventIngestionSource,
		zap.String("event", EventIngestionSource),
		zap.String("connector", connector),
		zap.String("source", source),
		zap.String("match_id", matchID),
	)
}

// EvaluationSummary logs run-level decision counts plus optional
// per-market accuracy, keys sorted for stable output.
func EvaluationSummary(matchCount, resolvedCount int, accuracyByMarket map[string]float64) {
	fields := []zap.Field{
		zap.String("event", EventEvaluationSummary),
		zap.Int("match_count", matchCount),
		zap.Int("resolved_count", resolvedCount),
	}
	keys := make([]string, 0, len(accuracyByMarket))
	for k := range accuracyByMarket {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Float64("accuracy_"+k, round4(accuracyByMarket[k])))
	}
	zap.L().Info("ops: "+EventEvaluationSummary, fields...)
}

// GuardrailTrigger records a guardrail or activation denial.
func GuardrailTrigger(trigger, detail string) {
	zap.L().Warn("ops: "+EventGuardrailTrigger,
		zap.String("event", EventGuardrailTrigger),
		zap.String("trigger", trigger),
		zap.String("detail", detail),
	)
}

// IntegrityMismatch records a snapshot whose stored checksum no longer
// matches its payload. Never fatal; the caller continues.
func IntegrityMismatch(snapshotID, matchID, detail string) {
	zap.L().Warn("ops: "+EventIntegrityMismatch,
		zap.String("event", EventIntegrityMismatch),
		zap.String("snapshot_id", snapshotID),
		zap.String("match_id", matchID),
		zap.String("detail", detail),
	)
}

// ActivationAudit records every activation allow/deny.
func ActivationAudit(runID string, allowed bool, state, reason string) {
	fields := []zap.Field{
		zap.String("event", EventActivationAudit),
		zap.String("run_id", runID),
		zap.Bool("allowed", allowed),
		zap.String("state", state),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	if allowed {
		zap.L().Info("ops: "+EventActivationAudit, fields...)
		return
	}
	zap.L().Warn("ops: "+EventActivationAudit, fields...)
}

// LiveBlockedByFlag records a live path refused by the safety posture.
func LiveBlockedByFlag(detail string) {
	zap.L().Info("ops: "+EventLiveBlockedByFlag,
		zap.String("event", EventLiveBlockedByFlag),
		zap.String("detail", detail),
	)
}

// RetentionPrune records report bundles removed by retention.
func RetentionPrune(category string, removed, kept int) {
	zap.L().Info("ops: "+EventRetentionPrune,
		zap.String("event", EventRetentionPrune),
		zap.String("category", category),
		zap.Int("removed", removed),
		zap.Int("kept", kept),
	)
}

// MeasurementSummary records a completed measurement batch.
func MeasurementSummary(runID, bundleDir string, outcomes int, durationMS int64) {
	zap.L().Info("ops: "+EventMeasurementSummary,
		zap.String("event", EventMeasurementSummary),
		zap.String("run_id", runID),
		zap.String("bundle", bundleDir),
		zap.Int("outcomes", outcomes),
		zap.Int64("duration_ms", durationMS),
	)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
