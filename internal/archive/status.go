package archive

import (
	"cmp"
	"errors"
	"io/fs"
	"slices"

	"github.com/databio/refgenies/internal/registry"
)

// Tag states reported by Status.
const (
	StateServable   = "servable"
	StatePending    = "pending"
	StateIncomplete = "incomplete"
	StateOrphaned   = "orphaned"
)

// TagStatus is the archive state of one genome/asset:tag.
type TagStatus struct {
	TagRef
	State       string `json:"state"`
	ArchiveSize string `json:"archive_size,omitempty"`
}

// StatusReport compares the source registry with the server registry.
type StatusReport struct {
	ServerConfig string      `json:"server_config"`
	ServerExists bool        `json:"server_exists"`
	Tags         []TagStatus `json:"tags"`
}

// Status classifies every tag known to either registry: servable in the
// server, pending a build, incomplete in the source, or orphaned (servable
// but gone from the source). Tags are ordered by genome, asset, and tag.
func (a *Archiver) Status() (*StatusReport, error) {
	report := &StatusReport{ServerConfig: a.serverConfig}

	server, err := registry.Load(a.fs, a.serverConfig)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		server = &registry.Config{}
	case err != nil:
		return nil, err
	default:
		report.ServerExists = true
	}

	seen := make(map[TagRef]bool)

	for _, ref := range allTags(a.source) {
		seen[ref] = true
		st := TagStatus{TagRef: ref}

		complete, _ := a.source.IsAssetComplete(ref.Genome, ref.Asset, ref.Tag)
		t, err := server.Tag(ref.Genome, ref.Asset, ref.Tag)

		switch {
		case err == nil && t.Servable():
			st.State = StateServable
			st.ArchiveSize = t.ArchiveSize
		case complete:
			st.State = StatePending
		default:
			st.State = StateIncomplete
		}

		report.Tags = append(report.Tags, st)
	}

	for _, ref := range allTags(server) {
		if seen[ref] {
			continue
		}

		t, err := server.Tag(ref.Genome, ref.Asset, ref.Tag)
		if err != nil || !t.Servable() {
			continue
		}

		report.Tags = append(report.Tags, TagStatus{TagRef: ref, State: StateOrphaned, ArchiveSize: t.ArchiveSize})
	}

	slices.SortFunc(report.Tags, func(x, y TagStatus) int {
		return cmp.Or(
			cmp.Compare(x.Genome, y.Genome),
			cmp.Compare(x.Asset, y.Asset),
			cmp.Compare(x.Tag, y.Tag),
		)
	})

	return report, nil
}

// allTags lists every tag in cfg, skipping null entries.
func allTags(cfg *registry.Config) []TagRef {
	var refs []TagRef

	for _, g := range cfg.GenomesList() {
		assets, err := cfg.AssetsByGenome(g)
		if err != nil {
			continue
		}

		for _, asset := range assets {
			tags, err := cfg.TagsByAsset(g, asset)
			if err != nil {
				continue
			}

			for _, tag := range tags {
				refs = append(refs, TagRef{Genome: g, Asset: asset, Tag: tag})
			}
		}
	}

	return refs
}
