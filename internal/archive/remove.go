package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/databio/refgenies/internal/ledger"
	"github.com/databio/refgenies/internal/registry"
	"github.com/databio/refgenies/internal/regpath"
)

// RemoveReport lists what a removal run touched.
type RemoveReport struct {
	ServerConfig string
	// Patterns are the archive glob patterns targeted, one per removed
	// selection.
	Patterns []string
	// Deleted are the files actually removed from disk.
	Deleted  []string
	NotFound []TagRef
}

// Remove deletes the selected entries from the server registry and their
// archives from disk. An asset-less selection wipes the whole genome, tag
// included, and a tag-less one every tag of the asset. Metadata removal is persisted before
// any file is deleted, so the server registry never advertises a missing
// archive. A selection absent from the registry is logged and skipped.
func (a *Archiver) Remove(ctx context.Context, paths []regpath.Path) (*RemoveReport, error) {
	if len(paths) == 0 {
		return nil, ErrEmptySelection
	}

	ok, err := registry.Exists(a.fs, a.serverConfig)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoServerConfig, a.serverConfig)
	}

	server, err := registry.Open(a.fs, a.serverConfig, a.logger)
	if err != nil {
		return nil, err
	}

	report := &RemoveReport{ServerConfig: a.serverConfig}

	for _, p := range Resolve(paths) {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("archive: removal interrupted: %w", err)
		}

		ref := TagRef{Genome: p.Namespace, Asset: p.Item, Tag: p.Tag}

		if ref.Asset == "" && ref.Tag != "" {
			a.logger.Warn("tag without asset selects the whole genome, removing every tag",
				slog.String("genome", ref.Genome), slog.String("tag", ref.Tag))
			ref.Tag = ""
		}

		if err := server.RemoveAssets(ref.Genome, ref.Asset, ref.Tag); err != nil {
			if !errors.Is(err, registry.ErrNotFound) {
				return report, err
			}

			a.logger.Warn("entity not found in server config, skipping", slog.String("entity", ref.String()))
			report.NotFound = append(report.NotFound, ref)
			a.record(ctx, ref, ledger.ActionNotFound)

			continue
		}

		if err := server.Write(); err != nil {
			return report, err
		}

		a.logger.Info("removed from server config", slog.String("entity", ref.String()))

		pattern := filepath.Join(a.archiveRoot, ref.Genome, archiveName(orAll(ref.Asset), orAll(ref.Tag)))
		report.Patterns = append(report.Patterns, pattern)

		deleted, err := a.deleteArchives(ref)
		report.Deleted = append(report.Deleted, deleted...)

		if err != nil {
			a.logger.Warn("could not delete archive files", slog.String("entity", ref.String()), slog.String("error", err.Error()))
		}

		a.record(ctx, ref, ledger.ActionRemoved)
		a.removeIfEmpty(filepath.Join(a.archiveRoot, ref.Genome))
	}

	return report, nil
}

func orAll(s string) string {
	if s == "" {
		return "*"
	}

	return s
}

// deleteArchives removes the archives matching ref and the build manifests
// copied next to them.
func (a *Archiver) deleteArchives(ref TagRef) ([]string, error) {
	dir := filepath.Join(a.archiveRoot, ref.Genome)
	suffix := orAll(ref.Asset) + "__" + orAll(ref.Tag)

	var (
		deleted []string
		errs    []error
	)

	for _, name := range []string{suffix + ".tgz", "build_recipe_" + suffix + ".json", "build_log_" + suffix + ".md"} {
		matches, err := afero.Glob(a.fs, filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}

		for _, m := range matches {
			if err := a.fs.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				continue
			}

			a.logger.Info("removed file", slog.String("path", m))
			deleted = append(deleted, m)
		}
	}

	return deleted, errors.Join(errs...)
}

// removeIfEmpty deletes dir when it has no entries left.
func (a *Archiver) removeIfEmpty(dir string) {
	entries, err := afero.ReadDir(a.fs, dir)
	if err != nil || len(entries) > 0 {
		return
	}

	if err := a.fs.Remove(dir); err != nil {
		a.logger.Warn("could not remove empty directory", slog.String("path", dir), slog.String("error", err.Error()))
		return
	}

	a.logger.Info("removed empty directory", slog.String("path", dir))
}
