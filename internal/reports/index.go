// Package reports maintains the on-disk report tree: a categorized
// index.json, per-run artifact bundles, retention pruning, and the
// HTTP viewer that exposes them read-only.
package reports

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Run categories tracked by the index.
const (
	CategoryRuns        = "runs"
	CategoryMeasurement = "measurement_runs"
	CategoryBurnIn      = "burn_in_runs"
	CategoryActivation  = "activation_runs"
	CategoryGraduation  = "graduation_runs"
)

// Categories lists every category in index order.
var Categories = []string{
	CategoryRuns,
	CategoryMeasurement,
	CategoryBurnIn,
	CategoryActivation,
	CategoryGraduation,
}

const indexFile = "index.json"

// Index is the persisted catalog of report runs. Lists are append
// ordered, oldest first.
type Index struct {
	Runs            []string `json:"runs"`
	MeasurementRuns []string `json:"measurement_runs"`
	BurnInRuns      []string `json:"burn_in_runs"`
	ActivationRuns  []string `json:"activation_runs"`
	GraduationRuns  []string `json:"graduation_runs"`

	LatestRunID            string `json:"latest_run_id,omitempty"`
	LatestMeasurementRunID string `json:"latest_measurement_run_id,omitempty"`
	LatestBurnInRunID      string `json:"latest_burn_in_run_id,omitempty"`
	LatestActivationRunID  string `json:"latest_activation_run_id,omitempty"`
	LatestGraduationRunID  string `json:"latest_graduation_run_id,omitempty"`
}

// IndexPath returns the location of index.json under root.
func IndexPath(root string) string {
	return filepath.Join(root, indexFile)
}

// LoadIndex reads the index from root. A missing or corrupt file loads
// as an empty index.
func LoadIndex(root string) Index {
	var idx Index
	data, err := os.ReadFile(IndexPath(root))
	if err == nil {
		if uerr := json.Unmarshal(data, &idx); uerr != nil {
			zap.L().Warn("reports: corrupt index, starting empty", zap.Error(uerr))
			idx = Index{}
		}
	}
	idx.normalize()
	return idx
}

// SaveIndex writes the index as stable JSON under root.
func SaveIndex(root string, idx Index) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return eris.Wrap(err, "reports: create reports root")
	}
	idx.normalize()
	data, err := stableJSON(&idx)
	if err != nil {
		return eris.Wrap(err, "reports: render index")
	}
	if err := os.WriteFile(IndexPath(root), data, 0o644); err != nil {
		return eris.Wrap(err, "reports: write index")
	}
	return nil
}

// Append records runID under category and moves the latest pointer.
// Re-appending an existing id only moves the pointer.
func (idx *Index) Append(category, runID string) error {
	list, latest, err := idx.slot(category)
	if err != nil {
		return err
	}
	if !slices.Contains(*list, runID) {
		*list = append(*list, runID)
	}
	*latest = runID
	return nil
}

// Latest returns the latest run id recorded for category.
func (idx *Index) Latest(category string) (string, error) {
	_, latest, err := idx.slot(category)
	if err != nil {
		return "", err
	}
	return *latest, nil
}

func (idx *Index) slot(category string) (*[]string, *string, error) {
	switch category {
	case CategoryRuns:
		return &idx.Runs, &idx.LatestRunID, nil
	case CategoryMeasurement:
		return &idx.MeasurementRuns, &idx.LatestMeasurementRunID, nil
	case CategoryBurnIn:
		return &idx.BurnInRuns, &idx.LatestBurnInRunID, nil
	case CategoryActivation:
		return &idx.ActivationRuns, &idx.LatestActivationRunID, nil
	case CategoryGraduation:
		return &idx.GraduationRuns, &idx.LatestGraduationRunID, nil
	default:
		return nil, nil, eris.Errorf("reports: unknown category %q", category)
	}
}

func (idx *Index) normalize() {
	for _, category := range Categories {
		list, _, err := idx.slot(category)
		if err != nil {
			continue
		}
		if *list == nil {
			*list = []string{}
		}
	}
}
