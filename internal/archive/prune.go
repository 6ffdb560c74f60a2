package archive

import (
	"context"
	"log/slog"

	"github.com/databio/refgenies/internal/ledger"
	"github.com/databio/refgenies/internal/registry"
)

// prune drops every server tag that lacks archive_digest or archive_size.
// Genomes and assets left empty are kept. The sweep runs on a copy; if it
// cannot complete, the warning is logged and the tree is left as it was.
func (a *Archiver) prune(ctx context.Context, server *registry.Store, report *BuildReport) {
	pruned, removed, err := pruneTree(server.Config)
	if err != nil {
		a.logger.Warn("could not prune server config", slog.String("error", err.Error()))
		return
	}

	server.Config = pruned

	for _, ref := range removed {
		a.logger.Info("removed tag without archive attributes from server config", slog.String("entity", ref.String()))
		report.Pruned = append(report.Pruned, ref)
		a.record(ctx, ref, ledger.ActionPruned)
	}
}

// pruneTree returns a copy of cfg without unservable tags, and the tags it
// dropped.
func pruneTree(cfg *registry.Config) (*registry.Config, []TagRef, error) {
	out, err := cfg.Clone()
	if err != nil {
		return nil, nil, err
	}

	var removed []TagRef

	for _, genome := range out.GenomesList() {
		assets, err := out.AssetsByGenome(genome)
		if err != nil {
			return nil, nil, err
		}

		for _, asset := range assets {
			tags, err := out.TagsByAsset(genome, asset)
			if err != nil {
				return nil, nil, err
			}

			for _, tag := range tags {
				t, err := out.Tag(genome, asset, tag)
				if err == nil && t.Servable() {
					continue
				}

				out.RemoveTag(genome, asset, tag)
				removed = append(removed, TagRef{Genome: genome, Asset: asset, Tag: tag})
			}
		}
	}

	return out, removed, nil
}
