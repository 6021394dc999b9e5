package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect analysis run history",
	Long:  "Commands for listing, viewing, settling and summarizing analysis runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("runs"); err != nil {
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

		status, _ := cmd.Flags().GetString("status")
		match, _ := cmd.Flags().GetString("match")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:  model.RunStatus(status),
			MatchID: match,
			Limit:   limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("runs"); err != nil {
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

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		return printJSON(os.Stdout, run)
	},
}

// -- runs settle --

var runsSettleCmd = &cobra.Command{
	Use:   "settle <run-id> <fixture-id> <market> <result>",
	Short: "Record the settled result for one decision outcome",
	Long: `Settle marks a pending outcome SUCCESS, FAILURE or VOID once the
fixture's result is known. Settled outcomes feed the measurement batch.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		market := model.Market(args[2])
		if !market.IsSupported() {
			return eris.Errorf("unsupported market %q", args[2])
		}
		result, err := parseOutcomeResult(args[3])
		if err != nil {
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

		if err := st.ResolveOutcome(ctx, args[0], args[1], market, result, time.Now().UTC()); err != nil {
			return eris.Wrap(err, "runs settle")
		}
		fmt.Fprintf(os.Stdout, "Settled %s %s %s as %s\n", args[0], args[1], market, result)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("runs"); err != nil {
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

		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (OK, NO_PREDICTION)")
	runsListCmd.Flags().String("match", "", "filter by match id")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsSettleCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// parseOutcomeResult maps a settle argument onto a terminal result.
func parseOutcomeResult(s string) (model.OutcomeResult, error) {
	switch model.OutcomeResult(strings.ToUpper(s)) {
	case model.OutcomeSuccess:
		return model.OutcomeSuccess, nil
	case model.OutcomeFailure:
		return model.OutcomeFailure, nil
	case model.OutcomeVoid:
		return model.OutcomeVoid, nil
	}
	return "", eris.Errorf("invalid result %q: want SUCCESS, FAILURE or VOID", s)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total        int
	OK           int
	NoPrediction int
	Play         int
	NoBet        int
	Refused      int
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.AnalysisRun) runStats {
	var s runStats
	s.Total = len(runs)

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusOK:
			s.OK++
		default:
			s.NoPrediction++
		}
		s.Play += r.Counts[model.DecisionPlay]
		s.NoBet += r.Counts[model.DecisionNoBet]
		s.Refused += r.Counts[model.DecisionNoPrediction]
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.AnalysisRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMATCH\tRESOLVE\tSTATUS\tPLAY\tNO_BET\tNO_PRED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t-------\t------\t----\t------\t-------\t-------")

	for _, r := range runs {
		match := r.MatchID
		if match == "" {
			match = "-"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			truncateID(r.ID),
			match,
			r.ResolveStatus,
			r.Status,
			r.Counts[model.DecisionPlay],
			r.Counts[model.DecisionNoBet],
			r.Counts[model.DecisionNoPrediction],
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "OK:\t%d\n", s.OK)
	_, _ = fmt.Fprintf(w, "No prediction:\t%d\n", s.NoPrediction)
	_, _ = fmt.Fprintf(w, "Decisions:\t\n")
	_, _ = fmt.Fprintf(w, "  Play:\t%d\n", s.Play)
	_, _ = fmt.Fprintf(w, "  No bet:\t%d\n", s.NoBet)
	_, _ = fmt.Fprintf(w, "  Refused:\t%d\n", s.Refused)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
