package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/decision-cli/internal/fetcher"
	"github.com/sells-group/decision-cli/internal/guardrails"
	"github.com/sells-group/decision-cli/internal/ingest"
	"github.com/sells-group/decision-cli/internal/ops"
	"github.com/sells-group/decision-cli/internal/safety"
)

var importSourceName string

var importCmd = &cobra.Command{
	Use:   "import <source>...",
	Short: "Import recorded payloads into the snapshot store",
	Long: `Import reads JSON, CSV, XLSX or ZIP payloads from local paths,
directories, HTTP(S) or FTP URLs, wraps each in a checksummed envelope
and stores it content-addressed. Re-importing unchanged payloads is a
no-op.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("import"); err != nil {
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

		im := ingest.New(st, ingest.Options{
			Source:     importSourceName,
			MaxRetries: cfg.Import.MaxRetries,
			HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
				UserAgent:  cfg.Import.UserAgent,
				Timeout:    time.Duration(cfg.Import.TimeoutSecs) * time.Second,
				MaxRetries: cfg.Import.MaxRetries,
			}),
		})

		res, err := im.Import(ctx, args)
		if err != nil {
			return err
		}

		for _, alert := range guardrails.Evaluate(safety.FromEnv(), *im.Metrics(), guardrails.DefaultPolicy()) {
			ops.GuardrailTrigger(alert.Code, alert.Message)
		}

		if err := printJSON(os.Stdout, res); err != nil {
			return err
		}
		if res.Sources == 0 && res.SourcesFailed > 0 {
			return eris.New("import: every source failed")
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importSourceName, "source", ingest.DefaultSource, "source name stamped on stored snapshots")
	rootCmd.AddCommand(importCmd)
}
