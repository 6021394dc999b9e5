package reports

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/decision-cli/internal/ops"
)

// DefaultKeep is how many bundles are retained per category.
const DefaultKeep = 30

// Prune drops all but the newest keep entries in every category,
// removing pruned bundle directories and trimming the index to match.
// Categories without on-disk bundles only have their lists trimmed.
// The trimmed index is saved and returned.
func Prune(root string, keep int) (Index, error) {
	if keep <= 0 {
		keep = DefaultKeep
	}

	idx := LoadIndex(root)
	for _, category := range Categories {
		list, latest, err := idx.slot(category)
		if err != nil {
			return Index{}, err
		}
		if len(*list) <= keep {
			continue
		}

		drop := (*list)[:len(*list)-keep]
		kept := append([]string{}, (*list)[len(*list)-keep:]...)

		if dir, ok := categoryDirs[category]; ok {
			for _, runID := range drop {
				if err := os.RemoveAll(filepath.Join(root, dir, runID)); err != nil {
					return Index{}, eris.Wrapf(err, "reports: prune %s bundle %s", category, runID)
				}
			}
		}

		*list = kept
		if *latest != "" && !slices.Contains(kept, *latest) {
			*latest = kept[len(kept)-1]
		}

		ops.RetentionPrune(category, len(drop), len(kept))
	}

	if err := SaveIndex(root, idx); err != nil {
		return Index{}, err
	}
	return idx, nil
}
