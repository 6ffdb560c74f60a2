package main

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/databio/refgenies/internal/archive"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the archive state of every asset tag",
		Long: `Compare the genome configuration with the server configuration and
classify every tag: servable (archived and advertised), pending (complete in
the source but not yet archived), incomplete (still building in the source),
or orphaned (advertised but no longer in the source).

Reads both configurations only; nothing is modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")

	return cmd
}

func runStatus(cmd *cobra.Command, asJSON bool) error {
	cc := cliContextFrom(cmd.Context())

	a, err := newArchiver(cc, afero.NewReadOnlyFs(afero.NewOsFs()))
	if err != nil {
		return err
	}

	report, err := a.Status()
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(cmd.OutOrStdout(), report)
	}

	printStatusText(cmd.OutOrStdout(), report)

	return nil
}

func printStatusText(w io.Writer, report *archive.StatusReport) {
	fmt.Fprintf(w, "Server config: %s", report.ServerConfig)

	if !report.ServerExists {
		fmt.Fprint(w, " (not built yet)")
	}

	fmt.Fprintln(w)

	if len(report.Tags) == 0 {
		fmt.Fprintln(w, "No asset tags found.")
		return
	}

	genome := ""

	for _, t := range report.Tags {
		if t.Genome != genome {
			genome = t.Genome
			fmt.Fprintf(w, "\n%s\n", genome)
		}

		size := t.ArchiveSize
		if size == "" {
			size = "-"
		}

		fmt.Fprintf(w, "  %-40s %-11s %s\n", t.Asset+":"+t.Tag, t.State, size)
	}
}
