package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/databio/refgenies/internal/ledger"
	"github.com/databio/refgenies/internal/registry"
	"github.com/databio/refgenies/internal/regpath"
)

// BuildOpts controls a build run.
type BuildOpts struct {
	// Force repackages tags whose archive already exists.
	Force bool
}

// TagFailure is a tag whose packaging failed. The server registry keeps
// whatever it had for the tag before the attempt.
type TagFailure struct {
	TagRef
	Err error
}

// BuildReport summarizes a build run.
type BuildReport struct {
	ServerConfig string
	Built        []TagRef
	Existing     []TagRef
	Incomplete   []TagRef
	Missing      []TagRef
	Pruned       []TagRef
	Failed       []TagFailure
}

// Build reconciles the server registry with the source for the selected
// registry paths (all genomes when paths is empty). Per-entity problems are
// logged, recorded, and skipped; only fatal conditions and server registry
// write failures are returned. A canceled ctx stops the run between tags;
// the prune and final write still happen and the context error is returned.
func (a *Archiver) Build(ctx context.Context, paths []regpath.Path, opts BuildOpts) (*BuildReport, error) {
	targets, err := Expand(Resolve(paths), a.source)
	if err != nil {
		return nil, err
	}

	server, err := a.openServer()
	if err != nil {
		return nil, err
	}

	report := &BuildReport{ServerConfig: a.serverConfig}

	a.logger.Info("building archives",
		slog.Int("targets", len(targets)),
		slog.Bool("force", opts.Force),
		slog.String("packager", a.packager.Name()),
		slog.String("server_config", a.serverConfig),
	)

	var stopErr error

	for _, t := range targets {
		if stopErr = ctx.Err(); stopErr != nil {
			break
		}

		if err := a.buildTarget(ctx, server, t, opts, report); err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}

			stopErr = err

			break
		}
	}

	a.prune(ctx, server, report)

	if err := server.Write(); err != nil {
		return report, err
	}

	a.logger.Info("builder finished; server config file saved",
		slog.String("server_config", a.serverConfig),
		slog.Int("built", len(report.Built)),
		slog.Int("existing", len(report.Existing)),
		slog.Int("incomplete", len(report.Incomplete)),
		slog.Int("failed", len(report.Failed)),
		slog.Int("pruned", len(report.Pruned)),
	)

	if stopErr != nil {
		return report, fmt.Errorf("archive: build interrupted: %w", stopErr)
	}

	return report, nil
}

// openServer opens the server registry, seeding it from the source on the
// first run.
func (a *Archiver) openServer() (*registry.Store, error) {
	ok, err := registry.Exists(a.fs, a.serverConfig)
	if err != nil {
		return nil, err
	}

	if ok {
		a.logger.Debug("server config exists", slog.String("path", a.serverConfig))
		return registry.Open(a.fs, a.serverConfig, a.logger)
	}

	a.logger.Info("server config does not exist, creating from source", slog.String("path", a.serverConfig))

	return registry.MakeWritable(a.fs, a.source, a.serverConfig, a.logger)
}

// buildTarget mirrors genome and asset attributes for one target and runs
// the tag builder over every selected tag. Only server write failures and
// cancellation are returned.
func (a *Archiver) buildTarget(ctx context.Context, server *registry.Store, t Target, opts BuildOpts, report *BuildReport) error {
	genome := t.Genome
	ref := TagRef{Genome: genome, Asset: t.Asset, Tag: t.Tag}

	gattrs, err := a.source.SetGenomeDefaults(genome, a.opts.DescriptionPlaceholder, a.opts.DigestPlaceholder)
	if err != nil {
		a.logger.Warn("genome not found in source config, skipping", slog.String("genome", genome))
		report.Missing = append(report.Missing, ref)
		a.record(ctx, ref, ledger.ActionMissing)

		return nil
	}

	if desc, ok := a.opts.Descriptions[genome]; ok && desc != "" {
		gattrs.Description = desc
	}

	genomeDir := filepath.Join(a.archiveRoot, genome)
	if err := a.fs.MkdirAll(genomeDir, 0o755); err != nil {
		return fmt.Errorf("archive: creating %s: %w", genomeDir, err)
	}

	if err := server.UpdateGenome(genome, gattrs); err != nil {
		return err
	}

	assets, err := t.assets(a.source)
	if err != nil || len(assets) == 0 {
		a.logger.Error("no assets found for genome", slog.String("genome", genome))
		return nil
	}

	for _, asset := range assets {
		if err := a.buildAsset(ctx, server, t, asset, opts, report); err != nil {
			return err
		}
	}

	return nil
}

func (a *Archiver) buildAsset(ctx context.Context, server *registry.Store, t Target, asset string, opts BuildOpts, report *BuildReport) error {
	genome := t.Genome
	ref := TagRef{Genome: genome, Asset: asset, Tag: t.Tag}

	aattrs, err := a.source.SetAssetDefaults(genome, asset, a.opts.DescriptionPlaceholder, a.opts.DefaultTag)
	if err != nil {
		a.logger.Warn("asset not found in source config, skipping", slog.String("genome", genome), slog.String("asset", asset))
		report.Missing = append(report.Missing, ref)
		a.record(ctx, ref, ledger.ActionMissing)

		return nil
	}

	if err := server.UpdateAsset(genome, asset, aattrs); err != nil {
		return err
	}

	tags, err := t.tags(a.source, asset)
	if err != nil || len(tags) == 0 {
		a.logger.Error("no tags found for asset", slog.String("genome", genome), slog.String("asset", asset))
		return nil
	}

	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := a.buildTag(ctx, server, TagRef{Genome: genome, Asset: asset, Tag: tag}, opts.Force, report); err != nil {
			return err
		}
	}

	return nil
}

// buildTag packages one tag and records its archive attributes. The server
// registry is persisted before packaging so that Reload after a failed pack
// keeps the genome and asset attributes mirrored so far and restores the
// tag's previous entry.
func (a *Archiver) buildTag(ctx context.Context, server *registry.Store, ref TagRef, force bool, report *BuildReport) error {
	log := a.logger.With(slog.String("entity", ref.String()))

	complete, err := a.source.IsAssetComplete(ref.Genome, ref.Asset, ref.Tag)
	if err != nil {
		log.Warn("tag not found in source config, skipping")
		report.Missing = append(report.Missing, ref)
		a.record(ctx, ref, ledger.ActionMissing)

		return nil
	}

	if !complete {
		log.Info("asset is not complete, skipping")
		server.RemoveTag(ref.Genome, ref.Asset, ref.Tag)
		report.Incomplete = append(report.Incomplete, ref)
		a.record(ctx, ref, ledger.ActionIncomplete)

		return server.Write()
	}

	if err := server.Write(); err != nil {
		return err
	}

	src, err := a.source.Tag(ref.Genome, ref.Asset, ref.Tag)
	if err != nil {
		return err
	}

	input := filepath.Join(a.source.GenomeFolder, ref.Genome, src.AssetPath, ref.Tag)
	target := a.ArchivePath(ref.Genome, ref.Asset, ref.Tag)

	if _, err := a.fs.Stat(target); err == nil && !force {
		return a.keepExisting(ctx, log, server, ref, src, input, target, report)
	}

	attrs, err := a.pack(ctx, log, ref, src, input, target)
	if err != nil {
		return a.tagFailed(ctx, log, server, ref, err, report)
	}

	server.UpdateTag(ref.Genome, ref.Asset, ref.Tag, attrs)
	if err := server.Write(); err != nil {
		return err
	}

	report.Built = append(report.Built, ref)
	a.record(ctx, ref, ledger.ActionBuilt, func(o *ledger.Outcome) {
		o.ArchiveDigest = attrs.ArchiveDigest
		o.ArchiveSize = attrs.ArchiveSize
	})

	return nil
}

// keepExisting leaves an archive already on disk in place. When the server
// entry for it is not servable (an interrupted run, a lost server config)
// the attributes are restored from the archive without repackaging.
func (a *Archiver) keepExisting(
	ctx context.Context, log *slog.Logger, server *registry.Store,
	ref TagRef, src *registry.Tag, input, target string, report *BuildReport,
) error {
	if cur, err := server.Tag(ref.Genome, ref.Asset, ref.Tag); err == nil && cur.Servable() {
		log.Debug("archive exists, skipping", slog.String("path", target))
		report.Existing = append(report.Existing, ref)
		a.record(ctx, ref, ledger.ActionExists)

		return nil
	}

	log.Info("archive exists without a servable entry, restoring attributes", slog.String("path", target))

	attrs, err := a.tagAttrs(src, input, target)
	if err != nil {
		return a.tagFailed(ctx, log, server, ref, err, report)
	}

	server.UpdateTag(ref.Genome, ref.Asset, ref.Tag, attrs)
	if err := server.Write(); err != nil {
		return err
	}

	report.Existing = append(report.Existing, ref)
	a.record(ctx, ref, ledger.ActionExists, func(o *ledger.Outcome) {
		o.ArchiveDigest = attrs.ArchiveDigest
		o.ArchiveSize = attrs.ArchiveSize
	})

	return nil
}

// tagFailed records a per-tag failure and drops in-memory changes made
// since the last durable write.
func (a *Archiver) tagFailed(ctx context.Context, log *slog.Logger, server *registry.Store, ref TagRef, err error, report *BuildReport) error {
	log.Warn("tag failed, skipping", slog.String("error", err.Error()))
	report.Failed = append(report.Failed, TagFailure{TagRef: ref, Err: err})
	a.record(ctx, ref, ledger.ActionFailed, func(o *ledger.Outcome) { o.Error = err.Error() })

	return server.Reload()
}

// pack writes the archive for one tag, copies its build manifests, and
// returns the complete tag attributes for the server registry.
func (a *Archiver) pack(ctx context.Context, log *slog.Logger, ref TagRef, src *registry.Tag, input, target string) (registry.Tag, error) {
	log.Info("creating archive", slog.String("source", input), slog.String("target", target))

	if err := a.packager.Pack(ctx, a.fs, input, ref.Asset, target); err != nil {
		return registry.Tag{}, err
	}

	a.copyManifests(log, ref, input, filepath.Dir(target))

	return a.tagAttrs(src, input, target)
}

// tagAttrs combines the source tag attributes with the digest and sizes of
// the archive at target.
func (a *Archiver) tagAttrs(src *registry.Tag, input, target string) (registry.Tag, error) {
	digest, err := Checksum(a.fs, target)
	if err != nil {
		return registry.Tag{}, err
	}

	archiveSize, err := Size(a.fs, target)
	if err != nil {
		return registry.Tag{}, err
	}

	assetSize, err := Size(a.fs, input)
	if err != nil {
		return registry.Tag{}, err
	}

	return registry.Tag{
		AssetPath:     src.AssetPath,
		SeekKeys:      src.SeekKeys,
		Parents:       src.Parents,
		Children:      src.Children,
		AssetDigest:   src.AssetDigest,
		ArchiveDigest: digest,
		ArchiveSize:   HumanSize(archiveSize),
		AssetSize:     HumanSize(assetSize),
	}, nil
}

// copyManifests copies the build recipe and build log next to the archive.
// Either may be absent; copy failures are logged and do not fail the tag.
func (a *Archiver) copyManifests(log *slog.Logger, ref TagRef, input, destDir string) {
	suffix := ref.Asset + "__" + ref.Tag

	copies := []struct{ from, to string }{
		{
			from: filepath.Join(input, buildMetaDir, "build_recipe_"+suffix+".json"),
			to:   filepath.Join(destDir, "build_recipe_"+suffix+".json"),
		},
		{
			from: filepath.Join(input, buildMetaDir, "refgenie_log.md"),
			to:   filepath.Join(destDir, "build_log_"+suffix+".md"),
		},
	}

	for _, c := range copies {
		data, err := afero.ReadFile(a.fs, c.from)
		if err != nil {
			log.Debug("build manifest not available", slog.String("path", c.from))
			continue
		}

		if err := afero.WriteFile(a.fs, c.to, data, 0o644); err != nil {
			log.Warn("could not copy build manifest", slog.String("path", c.to), slog.String("error", err.Error()))
		}
	}
}
