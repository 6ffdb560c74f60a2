package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/databio/refgenies/internal/archive"
	"github.com/databio/refgenies/internal/config"
	"github.com/databio/refgenies/internal/ledger"
	"github.com/databio/refgenies/internal/registry"
	"github.com/databio/refgenies/internal/regpath"
)

var (
	errNoGenomeConfig = errors.New("no genome configuration: pass -c/--genome-config or set $" + config.EnvGenomeConfig)
	errRemoveWatch    = errors.New("--remove and --watch cannot be combined")
)

type archiveFlags struct {
	force       bool
	remove      bool
	watch       bool
	genomesDesc string
}

func newArchiveCmd() *cobra.Command {
	var flags archiveFlags

	cmd := &cobra.Command{
		Use:   "archive [registry paths...]",
		Short: "Build or remove servable asset archives",
		Long: `Package complete asset tags of the genome configuration into
{genome_archive}/{genome}/{asset}__{tag}.tgz and record their digests and
sizes in the server genome configuration, which is written next to the
archives under the same file name as the source.

Registry paths take the form [namespace/]item[:tag]. A bare name selects a
whole genome. With no paths every genome is archived. Existing archives are
kept unless --force is given.

With --remove, the selected entries are deleted from the server
configuration and their archives from disk.`,
		Example: `  refgenies archive -c genomes.yaml
  refgenies archive hg38/fasta:default --force
  refgenies archive --remove hg38/bowtie2_index`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(cmd, args, flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "repackage archives that already exist")
	cmd.Flags().BoolVarP(&flags.remove, "remove", "r", false, "remove the selected entries instead of building them")
	cmd.Flags().BoolVarP(&flags.watch, "watch", "w", false, "rebuild whenever the genome configuration changes")
	cmd.Flags().StringVar(&flags.genomesDesc, "genomes-desc", "",
		"CSV of genome,description pairs overriding genome descriptions")

	return cmd
}

func runArchive(cmd *cobra.Command, args []string, flags archiveFlags) error {
	cc := cliContextFrom(cmd.Context())

	if flags.remove && flags.watch {
		return errRemoveWatch
	}

	paths, err := regpath.ParseAll(args)
	if err != nil {
		return err
	}

	if flags.remove && len(paths) == 0 {
		return archive.ErrEmptySelection
	}

	if flags.genomesDesc != "" {
		cc.Cfg.GenomeDescriptions = flags.genomesDesc
	}

	ctx, cancel := shutdownContext(cmd.Context(), cc.Logger)
	defer cancel()

	lg, err := ledger.Open(cc.Cfg.LedgerPath, cc.Logger)
	if err != nil {
		return err
	}
	defer lg.Close()

	fsys := afero.NewOsFs()
	out := cmd.OutOrStdout()

	switch {
	case flags.remove:
		return removeOnce(ctx, cc, lg, fsys, paths, out)
	case flags.watch:
		watcher, err := archive.NewFsWatcher()
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}

		return archive.Watch(ctx, archive.WatchConfig{
			Path:    cc.Cfg.GenomeConfig,
			Watcher: watcher,
			Logger:  cc.Logger,
			Rebuild: func(ctx context.Context) error {
				return buildOnce(ctx, cc, lg, fsys, paths, flags.force, out)
			},
		})
	default:
		return buildOnce(ctx, cc, lg, fsys, paths, flags.force, out)
	}
}

// newArchiver loads the source genome configuration and wires an Archiver
// from the resolved settings.
func newArchiver(cc *CLIContext, fsys afero.Fs) (*archive.Archiver, error) {
	path := cc.Cfg.GenomeConfig
	if path == "" {
		return nil, errNoGenomeConfig
	}

	src, err := registry.Load(fsys, path)
	if err != nil {
		return nil, err
	}

	pk, err := archive.SelectPackager(cc.Cfg.Packager, cc.Logger)
	if err != nil {
		return nil, err
	}

	opts := archive.Options{
		DescriptionPlaceholder: cc.Cfg.DescriptionPlaceholder,
		DigestPlaceholder:      cc.Cfg.DigestPlaceholder,
		DefaultTag:             cc.Cfg.DefaultTag,
		RequiredVersion:        cc.Cfg.RequiredConfigVersion,
	}

	if cc.Cfg.GenomeDescriptions != "" {
		descs, err := archive.LoadDescriptions(fsys, cc.Cfg.GenomeDescriptions)
		if err != nil {
			cc.Logger.Warn("genome descriptions not loaded", slog.String("error", err.Error()))
		} else {
			opts.Descriptions = descs
		}
	}

	return archive.New(&archive.Config{
		FS:         fsys,
		Source:     src,
		SourcePath: path,
		Packager:   pk,
		Logger:     cc.Logger,
		Options:    opts,
	})
}

// lockServer takes the server config lock for the duration of one run.
func lockServer(cc *CLIContext, a *archive.Archiver) (func(), error) {
	unlock, err := registry.Lock(a.ServerConfigPath(), cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", filepath.Base(a.ServerConfigPath()), err)
	}

	return unlock, nil
}

func buildOnce(
	ctx context.Context, cc *CLIContext, lg *ledger.Ledger, fsys afero.Fs,
	paths []regpath.Path, force bool, out io.Writer,
) error {
	a, err := newArchiver(cc, fsys)
	if err != nil {
		return err
	}

	unlock, err := lockServer(cc, a)
	if err != nil {
		return err
	}
	defer unlock()

	run, err := lg.BeginRun(ctx, ledger.ModeBuild, a.ServerConfigPath(), force)
	if err != nil {
		return err
	}

	report, buildErr := a.WithRecorder(run).Build(ctx, paths, archive.BuildOpts{Force: force})

	if err := run.Finish(context.WithoutCancel(ctx), buildErr); err != nil {
		cc.Logger.Warn("could not finish ledger run", slog.String("error", err.Error()))
	}

	if report != nil && !cc.Flags.Quiet {
		printBuildReport(out, report)
	}

	return buildErr
}

func removeOnce(
	ctx context.Context, cc *CLIContext, lg *ledger.Ledger, fsys afero.Fs,
	paths []regpath.Path, out io.Writer,
) error {
	a, err := newArchiver(cc, fsys)
	if err != nil {
		return err
	}

	unlock, err := lockServer(cc, a)
	if err != nil {
		return err
	}
	defer unlock()

	run, err := lg.BeginRun(ctx, ledger.ModeRemove, a.ServerConfigPath(), false)
	if err != nil {
		return err
	}

	report, removeErr := a.WithRecorder(run).Remove(ctx, paths)

	if err := run.Finish(context.WithoutCancel(ctx), removeErr); err != nil {
		cc.Logger.Warn("could not finish ledger run", slog.String("error", err.Error()))
	}

	if report != nil && !cc.Flags.Quiet {
		printRemoveReport(out, report)
	}

	return removeErr
}

func printBuildReport(w io.Writer, r *archive.BuildReport) {
	fmt.Fprintf(w, "Server config: %s\n", r.ServerConfig)
	fmt.Fprintf(w, "Built: %d  Existing: %d  Incomplete: %d  Missing: %d  Failed: %d  Pruned: %d\n",
		len(r.Built), len(r.Existing), len(r.Incomplete), len(r.Missing), len(r.Failed), len(r.Pruned))

	if len(r.Failed) == 0 {
		return
	}

	fmt.Fprintln(w)

	rows := make([][]string, len(r.Failed))
	for i, f := range r.Failed {
		rows[i] = []string{f.String(), f.Err.Error()}
	}

	printTable(w, []string{"FAILED", "ERROR"}, rows)
}

func printRemoveReport(w io.Writer, r *archive.RemoveReport) {
	fmt.Fprintf(w, "Server config: %s\n", r.ServerConfig)

	for _, p := range r.Patterns {
		fmt.Fprintf(w, "Removed: %s\n", p)
	}

	for _, ref := range r.NotFound {
		fmt.Fprintf(os.Stderr, "Not found: %s\n", ref)
	}
}
