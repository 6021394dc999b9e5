package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/decision-cli/internal/measure"
	"github.com/sells-group/decision-cli/internal/reports"
)

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Run the full measurement batch over settled outcomes",
	Long: `Measure recomputes every decision-quality report from the outcome
rows in one pass: staleness accuracy bands, decay fit, penalty tables,
uncertainty intervals, worst-case errors and refusal tuning. Reports
land in a timestamped bundle under the reports root and the bundle is
appended to the index.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("measure"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		res, err := measure.NewRunner(st).Run(ctx, cfg.Reports.Dir)
		if err != nil {
			return err
		}

		if _, err := reports.Prune(cfg.Reports.Dir, cfg.Reports.MaxBundles); err != nil {
			zap.L().Warn("prune report bundles", zap.Error(err))
		}

		return printJSON(os.Stdout, measureSummary{
			RunID:     res.RunID,
			BundleDir: res.BundleDir,
			Outcomes:  res.Outcomes,
		})
	},
}

type measureSummary struct {
	RunID     string `json:"run_id"`
	BundleDir string `json:"bundle_dir"`
	Outcomes  int    `json:"outcomes"`
}

func init() {
	rootCmd.AddCommand(measureCmd)
}
