package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/databio/refgenies/internal/ledger"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded archive runs",
		Long: `List recent archive runs from the ledger, newest first. With a run ID,
list every per-tag outcome recorded for that run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, args, limit, asJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "maximum number of runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string, limit int, asJSON bool) error {
	cc := cliContextFrom(cmd.Context())

	lg, err := ledger.Open(cc.Cfg.LedgerPath, cc.Logger)
	if err != nil {
		return err
	}
	defer lg.Close()

	out := cmd.OutOrStdout()

	if len(args) == 1 {
		outcomes, err := lg.Outcomes(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(out, outcomes)
		}

		printOutcomes(out, outcomes)

		return nil
	}

	runs, err := lg.RecentRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(out, runs)
	}

	printRuns(out, runs)

	return nil
}

func printRuns(w io.Writer, runs []ledger.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No archive runs recorded.")
		return
	}

	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{
			r.ID,
			string(r.Mode),
			string(r.Status),
			strconv.FormatBool(r.Forced),
			formatTime(r.StartedAt) + " (" + humanize.Time(r.StartedAt) + ")",
			formatDuration(r.StartedAt, r.FinishedAt),
			r.ServerConfig,
		}
	}

	printTable(w, []string{"ID", "MODE", "STATUS", "FORCED", "STARTED", "DURATION", "SERVER CONFIG"}, rows)
}

func printOutcomes(w io.Writer, outcomes []ledger.Outcome) {
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "No outcomes recorded for this run.")
		return
	}

	rows := make([][]string, len(outcomes))
	for i, o := range outcomes {
		rows[i] = []string{
			o.Genome + "/" + o.Asset + ":" + o.Tag,
			string(o.Action),
			o.ArchiveSize,
			o.ArchiveDigest,
			o.Error,
		}
	}

	printTable(w, []string{"ENTITY", "ACTION", "SIZE", "DIGEST", "ERROR"}, rows)
}
