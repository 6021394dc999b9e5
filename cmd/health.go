package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/decision-cli/internal/readiness"
	"github.com/sells-group/decision-cli/internal/safety"
	"github.com/sells-group/decision-cli/internal/store"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run the readiness checks",
	Long: `Health probes the store, policy constants, reports directory, report
index and safety posture, prints every check result and exits non-zero
when any check fails. Warnings pass.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("health"); err != nil {
			return err
		}

		ctx := cmd.Context()

		// A broken store is a FAIL result, not a command error.
		var st store.Store
		if opened, err := initStore(ctx); err == nil {
			st = opened
			defer st.Close() //nolint:errcheck
		}

		results := readiness.Run(ctx, readiness.Deps{
			Store:        st,
			ReportsRoot:  cfg.Reports.Dir,
			RegistryPath: cfg.Resolver.RegistryPath,
			Posture:      safety.FromEnv(),
		})

		if err := printJSON(os.Stdout, results); err != nil {
			return err
		}
		if !readiness.Healthy(results) {
			return eris.New("health: checks failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
