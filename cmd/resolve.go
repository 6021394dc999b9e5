package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/decision-cli/internal/resolver"
)

var (
	resolveHome    string
	resolveAway    string
	resolveKickoff string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve team names to a fixture without running the engine",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("resolve"); err != nil {
			return err
		}

		reg, err := resolver.LoadRegistry(cfg.Resolver.RegistryPath)
		if err != nil {
			return err
		}

		q, err := buildQuery(resolveHome, resolveAway, resolveKickoff, cfg.Resolver.WindowHours)
		if err != nil {
			return err
		}

		res := resolver.New(reg).Resolve(q)
		return printJSON(os.Stdout, res)
	},
}

// buildQuery assembles a resolver query from command flags. The kickoff
// hint is optional and must be RFC3339 when given.
func buildQuery(home, away, kickoff string, windowHours int) (resolver.Query, error) {
	q := resolver.Query{Home: home, Away: away, WindowHours: windowHours}
	if kickoff != "" {
		t, err := time.Parse(time.RFC3339, kickoff)
		if err != nil {
			return resolver.Query{}, eris.Wrapf(err, "parse kickoff %q", kickoff)
		}
		utc := t.UTC()
		q.KickoffHint = &utc
	}
	return q, nil
}

func init() {
	resolveCmd.Flags().StringVar(&resolveHome, "home", "", "home team name (required)")
	resolveCmd.Flags().StringVar(&resolveAway, "away", "", "away team name (required)")
	resolveCmd.Flags().StringVar(&resolveKickoff, "kickoff", "", "kickoff hint, RFC3339")
	_ = resolveCmd.MarkFlagRequired("home")
	_ = resolveCmd.MarkFlagRequired("away")
	rootCmd.AddCommand(resolveCmd)
}
