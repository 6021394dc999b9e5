// Package graduation evaluates whether the measurement subsystem has
// produced enough evidence to argue for live activation. Eight criteria
// are checked in fixed order over the report tree; the overall verdict
// is a strict AND and a missing artifact always fails its criterion
// rather than erroring out.
package graduation

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/decision-cli/internal/decay"
	"github.com/sells-group/decision-cli/internal/delta"
	"github.com/sells-group/decision-cli/internal/measure"
	"github.com/sells-group/decision-cli/internal/refusal"
	"github.com/sells-group/decision-cli/internal/replay"
	"github.com/sells-group/decision-cli/internal/reports"
	"github.com/sells-group/decision-cli/internal/snapshot"
	"github.com/sells-group/decision-cli/internal/staleness"
	"github.com/sells-group/decision-cli/internal/uncertainty"
	"github.com/sells-group/decision-cli/internal/worstcase"
)

// ArtifactReport is the verdict's file name inside a graduation bundle.
const ArtifactReport = "graduation_report.json"

// Criterion names, in evaluation order.
const (
	CriterionDeltaCoverage          = "DELTA_COVERAGE"
	CriterionPayloadMatchRate       = "DELTA_PAYLOAD_MATCH_RATE"
	CriterionStalenessObservability = "STALENESS_OBSERVABILITY"
	CriterionDecayCoverage          = "DECAY_MODEL_COVERAGE"
	CriterionUncertaintySignals     = "UNCERTAINTY_SIGNAL_AVAILABILITY"
	CriterionLateDataRobustness     = "LATE_DATA_ROBUSTNESS"
	CriterionWorstCaseVisibility    = "WORST_CASE_VISIBILITY"
	CriterionRefusalReporting       = "REFUSAL_OPT_REPORTING"
)

// CriterionOrder fixes the report row order.
var CriterionOrder = []string{
	CriterionDeltaCoverage,
	CriterionPayloadMatchRate,
	CriterionStalenessObservability,
	CriterionDecayCoverage,
	CriterionUncertaintySignals,
	CriterionLateDataRobustness,
	CriterionWorstCaseVisibility,
	CriterionRefusalReporting,
}

// Thresholds are the graduation gate's tunable floors.
type Thresholds struct {
	DeltaFixtureCoverage int     `json:"delta_fixture_coverage"`
	PayloadMatchRate     float64 `json:"payload_match_rate"`
	StalenessReasonCodes int     `json:"staleness_reason_codes"`
	DecayFitKeys         int     `json:"decay_fit_keys"`
	UncertaintyDecisions int     `json:"uncertainty_decisions"`
	AccuracyDeltaFloor   float64 `json:"accuracy_delta_floor"`
	RefusalDeltaFloor    float64 `json:"refusal_delta_floor"`
	WorstCaseRows        int     `json:"worst_case_rows"`
}

// DefaultThresholds returns the v1 graduation gate.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DeltaFixtureCoverage: 50,
		PayloadMatchRate:     0.95,
		StalenessReasonCodes: 20,
		DecayFitKeys:         20,
		UncertaintyDecisions: 200,
		AccuracyDeltaFloor:   -0.10,
		RefusalDeltaFloor:    0.05,
		WorstCaseRows:        20,
	}
}

// CriterionResult is one criterion's verdict with its evidence.
type CriterionResult struct {
	Name    string         `json:"name"`
	Pass    bool           `json:"pass"`
	Details map[string]any `json:"details"`
}

// Result is the full graduation verdict.
type Result struct {
	OverallPass   bool              `json:"overall_pass"`
	ComputedAtUTC string            `json:"computed_at_utc"`
	Thresholds    Thresholds        `json:"thresholds"`
	Criteria      []CriterionResult `json:"criteria"`
}

// NewRunID mints a graduation run identifier.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("graduation_%s_%s",
		now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// Evaluate checks every criterion against the artifacts under the
// reports root. Burn-in bundles feed the delta and late-data criteria;
// the latest measurement bundle feeds the rest.
func Evaluate(root string, th Thresholds, now time.Time) Result {
	idx := reports.LoadIndex(root)

	res := Result{
		ComputedAtUTC: snapshot.ISO(now),
		Thresholds:    th,
	}

	deltas, scanned := loadDeltaReports(root, idx)

	res.Criteria = []CriterionResult{
		deltaCoverage(root, th, deltas, scanned),
		payloadMatchRate(root, th, deltas, scanned),
		stalenessObservability(root, th, idx),
		decayCoverage(root, th, idx),
		uncertaintySignals(root, th, idx),
		lateDataRobustness(root, th, idx),
		worstCaseVisibility(root, th, idx),
		refusalReporting(root, th, idx),
	}

	res.OverallPass = true
	for _, c := range res.Criteria {
		if !c.Pass {
			res.OverallPass = false
			break
		}
	}
	return res
}

func failMissing(name, path string) CriterionResult {
	return CriterionResult{
		Name: name,
		Details: map[string]any{
			"reason": "artifact missing",
			"path":   filepath.ToSlash(path),
		},
	}
}

func failInvalid(name, path string, err error) CriterionResult {
	return CriterionResult{
		Name: name,
		Details: map[string]any{
			"reason": "artifact invalid",
			"path":   filepath.ToSlash(path),
			"error":  err.Error(),
		},
	}
}

func readArtifact(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// latestMeasurementPath resolves one artifact inside the newest
// measurement bundle. Empty run id means no measurement has run yet.
func latestMeasurementPath(root string, idx reports.Index, artifact string) (string, bool) {
	runID := idx.LatestMeasurementRunID
	if runID == "" && len(idx.MeasurementRuns) > 0 {
		runID = idx.MeasurementRuns[len(idx.MeasurementRuns)-1]
	}
	if runID == "" {
		return filepath.Join(reports.BundleDir(root, reports.CategoryMeasurement), artifact), false
	}
	return filepath.Join(reports.BundleDir(root, reports.CategoryMeasurement), runID, artifact), true
}

// loadDeltaReports collects every readable delta comparison across the
// burn-in bundles, oldest first.
func loadDeltaReports(root string, idx reports.Index) ([]delta.CompareReport, int) {
	var out []delta.CompareReport
	scanned := 0
	for _, runID := range idx.BurnInRuns {
		path := filepath.Join(reports.BundleDir(root, reports.CategoryBurnIn), runID, delta.ArtifactCompare)
		var rep delta.CompareReport
		if err := readArtifact(path, &rep); err != nil {
			continue
		}
		out = append(out, rep)
		scanned++
	}
	return out, scanned
}

func deltaCoverage(root string, th Thresholds, deltas []delta.CompareReport, scanned int) CriterionResult {
	if len(deltas) == 0 {
		return failMissing(CriterionDeltaCoverage, filepath.Join(reports.BundleDir(root, reports.CategoryBurnIn), delta.ArtifactCompare))
	}

	fixtures := map[string]bool{}
	for _, rep := range deltas {
		for _, r := range rep.Reports {
			if r.RecordedSnapshotID != "" && r.LiveSnapshotID != "" {
				fixtures[r.FixtureID] = true
			}
		}
	}

	return CriterionResult{
		Name: CriterionDeltaCoverage,
		Pass: len(fixtures) >= th.DeltaFixtureCoverage,
		Details: map[string]any{
			"fixtures_with_both_deltas": len(fixtures),
			"min_required":              th.DeltaFixtureCoverage,
			"reports_scanned":           scanned,
		},
	}
}

func payloadMatchRate(root string, th Thresholds, deltas []delta.CompareReport, scanned int) CriterionResult {
	if len(deltas) == 0 {
		return failMissing(CriterionPayloadMatchRate, filepath.Join(reports.BundleDir(root, reports.CategoryBurnIn), delta.ArtifactCompare))
	}

	total, matched := 0, 0
	for _, rep := range deltas {
		for _, r := range rep.Reports {
			if r.PayloadMatch == nil {
				continue
			}
			total++
			if *r.PayloadMatch {
				matched++
			}
		}
	}

	rate := 0.0
	if total > 0 {
		rate = round4(float64(matched) / float64(total))
	}

	return CriterionResult{
		Name: CriterionPayloadMatchRate,
		Pass: total > 0 && rate >= th.PayloadMatchRate,
		Details: map[string]any{
			"payload_match_rate": rate,
			"rows_compared":      total,
			"min_rate":           th.PayloadMatchRate,
			"reports_scanned":    scanned,
		},
	}
}

func stalenessObservability(root string, th Thresholds, idx reports.Index) CriterionResult {
	path, ok := latestMeasurementPath(root, idx, measure.ArtifactStaleness)
	if !ok {
		return failMissing(CriterionStalenessObservability, path)
	}
	var rep staleness.Report
	if err := readArtifact(path, &rep); err != nil {
		if os.IsNotExist(err) {
			return failMissing(CriterionStalenessObservability, path)
		}
		return failInvalid(CriterionStalenessObservability, path, err)
	}

	codes := map[string]bool{}
	for _, b := range rep.Buckets {
		if b.Total > 0 {
			codes[b.ReasonCode] = true
		}
	}

	return CriterionResult{
		Name: CriterionStalenessObservability,
		Pass: len(codes) >= th.StalenessReasonCodes,
		Details: map[string]any{
			"reason_codes_with_support": len(codes),
			"min_required":              th.StalenessReasonCodes,
		},
	}
}

func decayCoverage(root string, th Thresholds, idx reports.Index) CriterionResult {
	path, ok := latestMeasurementPath(root, idx, measure.ArtifactDecay)
	if !ok {
		return failMissing(CriterionDecayCoverage, path)
	}
	var rep decay.Report
	if err := readArtifact(path, &rep); err != nil {
		if os.IsNotExist(err) {
			return failMissing(CriterionDecayCoverage, path)
		}
		return failInvalid(CriterionDecayCoverage, path, err)
	}

	keys := 0
	for _, p := range rep.Params {
		if p.ReasonCode != "" && len(p.Bands) > 0 {
			keys++
		}
	}

	return CriterionResult{
		Name: CriterionDecayCoverage,
		Pass: keys >= th.DecayFitKeys,
		Details: map[string]any{
			"reason_codes_with_fit": keys,
			"min_required":          th.DecayFitKeys,
		},
	}
}

func uncertaintySignals(root string, th Thresholds, idx reports.Index) CriterionResult {
	path, ok := latestMeasurementPath(root, idx, measure.ArtifactUncertainty)
	if !ok {
		return failMissing(CriterionUncertaintySignals, path)
	}
	var rep uncertainty.Report
	if err := readArtifact(path, &rep); err != nil {
		if os.IsNotExist(err) {
			return failMissing(CriterionUncertaintySignals, path)
		}
		return failInvalid(CriterionUncertaintySignals, path, err)
	}

	return CriterionResult{
		Name: CriterionUncertaintySignals,
		Pass: rep.TotalDecisions >= th.UncertaintyDecisions,
		Details: map[string]any{
			"decisions_count": rep.TotalDecisions,
			"min_required":    th.UncertaintyDecisions,
		},
	}
}

// lateDataRobustness reads the newest burn-in bundle carrying a
// late-data summary. The gate is an OR: accuracy may degrade within the
// floor, or refusal must rise to compensate.
func lateDataRobustness(root string, th Thresholds, idx reports.Index) CriterionResult {
	burnDir := reports.BundleDir(root, reports.CategoryBurnIn)
	if len(idx.BurnInRuns) == 0 {
		return failMissing(CriterionLateDataRobustness, filepath.Join(burnDir, replay.ArtifactLateData))
	}

	var (
		sum     replay.RobustnessSummary
		path    string
		lastErr error
		found   bool
	)
	for i := len(idx.BurnInRuns) - 1; i >= 0; i-- {
		path = filepath.Join(burnDir, idx.BurnInRuns[i], replay.ArtifactLateData)
		err := readArtifact(path, &sum)
		if err == nil {
			found = true
			break
		}
		if !os.IsNotExist(err) {
			lastErr = err
		}
	}
	if !found {
		if lastErr != nil {
			return failInvalid(CriterionLateDataRobustness, path, lastErr)
		}
		return failMissing(CriterionLateDataRobustness, filepath.Join(burnDir, replay.ArtifactLateData))
	}

	accuracyOK := sum.AccuracyDelta24h >= th.AccuracyDeltaFloor
	refusalOK := sum.RefusalDelta24h >= th.RefusalDeltaFloor

	return CriterionResult{
		Name: CriterionLateDataRobustness,
		Pass: accuracyOK || refusalOK,
		Details: map[string]any{
			"accuracy_delta_24h": sum.AccuracyDelta24h,
			"refusal_delta_24h":  sum.RefusalDelta24h,
			"accuracy_ok":        accuracyOK,
			"refusal_ok":         refusalOK,
			"outcomes":           sum.Outcomes,
		},
	}
}

func worstCaseVisibility(root string, th Thresholds, idx reports.Index) CriterionResult {
	path, ok := latestMeasurementPath(root, idx, measure.ArtifactWorstCase)
	if !ok {
		return failMissing(CriterionWorstCaseVisibility, path)
	}
	var rep worstcase.Report
	if err := readArtifact(path, &rep); err != nil {
		if os.IsNotExist(err) {
			return failMissing(CriterionWorstCaseVisibility, path)
		}
		return failInvalid(CriterionWorstCaseVisibility, path, err)
	}

	return CriterionResult{
		Name: CriterionWorstCaseVisibility,
		Pass: len(rep.Overall) >= th.WorstCaseRows,
		Details: map[string]any{
			"rows_count":   len(rep.Overall),
			"min_required": th.WorstCaseRows,
		},
	}
}

func refusalReporting(root string, th Thresholds, idx reports.Index) CriterionResult {
	path, ok := latestMeasurementPath(root, idx, measure.ArtifactRefusal)
	if !ok {
		return failMissing(CriterionRefusalReporting, path)
	}
	var rep refusal.Report
	if err := readArtifact(path, &rep); err != nil {
		if os.IsNotExist(err) {
			return failMissing(CriterionRefusalReporting, path)
		}
		return failInvalid(CriterionRefusalReporting, path, err)
	}

	bestPresent := rep.Overall.Policy.StaleBand != ""
	gridRows := len(rep.Grid)

	return CriterionResult{
		Name: CriterionRefusalReporting,
		Pass: bestPresent && gridRows > 0,
		Details: map[string]any{
			"report_present":      true,
			"best_policy_present": bestPresent,
			"grid_rows":           gridRows,
		},
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
