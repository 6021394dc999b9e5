package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/decision-cli/internal/graduation"
	"github.com/sells-group/decision-cli/internal/reports"
)

var graduateStrictExit bool

var graduateCmd = &cobra.Command{
	Use:   "graduate",
	Short: "Evaluate the graduation criteria over the latest report bundles",
	Long: `Graduate checks the eight readiness criteria against the newest
measurement and burn-in artifacts, writes a graduation report bundle
and prints the verdict. The verdict is advisory; activation stays
behind the safety posture either way.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("graduate"); err != nil {
			return err
		}

		now := time.Now().UTC()
		result := graduation.Evaluate(cfg.Reports.Dir, graduation.DefaultThresholds(), now)

		runID := graduation.NewRunID(now)
		bundle, err := reports.NewBundle(filepath.Join(reports.BundleDir(cfg.Reports.Dir, reports.CategoryGraduation), runID))
		if err != nil {
			return err
		}
		if err := bundle.WriteJSON(graduation.ArtifactReport, result); err != nil {
			return err
		}

		idx := reports.LoadIndex(cfg.Reports.Dir)
		if err := idx.Append(reports.CategoryGraduation, runID); err != nil {
			return err
		}
		if err := reports.SaveIndex(cfg.Reports.Dir, idx); err != nil {
			return err
		}

		if err := printJSON(os.Stdout, result); err != nil {
			return err
		}
		if graduateStrictExit && !result.OverallPass {
			return eris.New("graduation: criteria not met")
		}
		return nil
	},
}

func init() {
	graduateCmd.Flags().BoolVar(&graduateStrictExit, "strict-exit", false, "exit non-zero when the overall verdict fails")
	rootCmd.AddCommand(graduateCmd)
}
