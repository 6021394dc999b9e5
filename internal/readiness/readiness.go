// Package readiness runs the health checks behind the health command.
// Checks probe, never repair: a failing store stays failing until the
// operator migrates it.
package readiness

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sells-group/decision-cli/internal/decay"
	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/reports"
	"github.com/sells-group/decision-cli/internal/resolver"
	"github.com/sells-group/decision-cli/internal/safety"
	"github.com/sells-group/decision-cli/internal/staleness"
	"github.com/sells-group/decision-cli/internal/store"
)

// Check statuses.
const (
	StatusPass = "PASS"
	StatusWarn = "WARN"
	StatusFail = "FAIL"
)

// Check codes, in report order.
const (
	CheckStore      = "store"
	CheckPolicy     = "policy"
	CheckReportsDir = "reports_dir"
	CheckRegistry   = "team_registry"
	CheckIndex      = "report_index"
	CheckPosture    = "safety_posture"
)

// CheckResult is one health check's outcome.
type CheckResult struct {
	Code    string `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Deps is what the checks probe.
type Deps struct {
	Store        store.Store
	ReportsRoot  string
	RegistryPath string
	Posture      safety.Snapshot
}

// Run executes every check in a fixed order. Checks are independent; a
// failing store does not stop the rest.
func Run(ctx context.Context, deps Deps) []CheckResult {
	return []CheckResult{
		checkStore(ctx, deps.Store),
		checkPolicy(),
		checkReportsDir(deps.ReportsRoot),
		checkRegistry(deps.RegistryPath),
		checkIndex(deps.ReportsRoot),
		checkPosture(deps.Posture),
	}
}

// Healthy reports whether no check failed. Warnings do not count
// against health.
func Healthy(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == StatusFail {
			return false
		}
	}
	return true
}

func checkStore(ctx context.Context, st store.Store) CheckResult {
	if st == nil {
		return fail(CheckStore, "no store configured")
	}
	n, err := st.CountOutcomes(ctx)
	if err != nil {
		return fail(CheckStore, fmt.Sprintf("store query failed (migrations applied?): %v", err))
	}
	return pass(CheckStore, fmt.Sprintf("store reachable, %d outcomes recorded", n))
}

func checkPolicy() CheckResult {
	var problems []string
	if model.PolicyVersion == "" {
		problems = append(problems, "policy version is empty")
	}
	if model.DefaultMinConfidence <= 0 || model.DefaultMinConfidence >= 1 {
		problems = append(problems, fmt.Sprintf("default min confidence %.2f outside (0,1)", model.DefaultMinConfidence))
	}
	if model.MaxDecisionReasons < 1 {
		problems = append(problems, "max decision reasons below 1")
	}
	if len(staleness.BandLabels) != 7 {
		problems = append(problems, fmt.Sprintf("expected 7 staleness bands, have %d", len(staleness.BandLabels)))
	}
	if decay.MinSupport < 1 {
		problems = append(problems, "decay min support below 1")
	}
	if len(problems) > 0 {
		return fail(CheckPolicy, strings.Join(problems, "; "))
	}
	return pass(CheckPolicy, fmt.Sprintf("policy %s sane, min confidence %.2f", model.PolicyVersion, model.DefaultMinConfidence))
}

func checkReportsDir(root string) CheckResult {
	if root == "" {
		return fail(CheckReportsDir, "reports root not configured")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fail(CheckReportsDir, fmt.Sprintf("reports root not creatable: %v", err))
	}
	probe, err := os.CreateTemp(root, ".readiness-*")
	if err != nil {
		return fail(CheckReportsDir, fmt.Sprintf("reports root not writable: %v", err))
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return pass(CheckReportsDir, fmt.Sprintf("reports root writable at %s", root))
}

func checkRegistry(path string) CheckResult {
	if path == "" {
		return fail(CheckRegistry, "registry path not configured")
	}
	reg, err := resolver.LoadRegistry(path)
	if err != nil {
		return fail(CheckRegistry, fmt.Sprintf("registry not loadable: %v", err))
	}
	return pass(CheckRegistry, fmt.Sprintf("registry loaded, %d teams, %d fixtures", len(reg.Teams()), len(reg.Fixtures())))
}

func checkIndex(root string) CheckResult {
	if root == "" {
		return warn(CheckIndex, "reports root not configured, no index to read")
	}
	if _, err := os.Stat(reports.IndexPath(root)); os.IsNotExist(err) {
		return warn(CheckIndex, "no report index yet; the first run creates it")
	}
	idx := reports.LoadIndex(root)
	total := len(idx.Runs) + len(idx.MeasurementRuns) + len(idx.BurnInRuns) +
		len(idx.ActivationRuns) + len(idx.GraduationRuns)
	return pass(CheckIndex, fmt.Sprintf("report index present, %d runs tracked", total))
}

func checkPosture(p safety.Snapshot) CheckResult {
	if p.KillSwitch {
		return warn(CheckPosture, "activation kill switch engaged, all live activity denied")
	}
	if p.ActivationEnabled && !safety.ValidMode(p.ActivationMode) {
		return warn(CheckPosture, fmt.Sprintf("activation enabled but mode %q is invalid, activation will be denied", p.ActivationMode))
	}
	if p.ActivationEnabled {
		return pass(CheckPosture, fmt.Sprintf("activation enabled in %s mode", p.ActivationMode))
	}
	return pass(CheckPosture, "shadow mode, activation disabled")
}

func pass(code, msg string) CheckResult {
	return CheckResult{Code: code, Status: StatusPass, Message: msg}
}

func warn(code, msg string) CheckResult {
	return CheckResult{Code: code, Status: StatusWarn, Message: msg}
}

func fail(code, msg string) CheckResult {
	return CheckResult{Code: code, Status: StatusFail, Message: msg}
}
