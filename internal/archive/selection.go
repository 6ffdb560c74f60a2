package archive

import (
	"github.com/databio/refgenies/internal/registry"
	"github.com/databio/refgenies/internal/regpath"
)

// Target is one unit of selection: a genome plus optional asset and tag
// selectors. An empty Asset means every asset of the genome and an empty Tag
// means every tag of each selected asset, both expanded against the source
// registry when the genome is processed.
type Target struct {
	Genome string
	Asset  string
	Tag    string
}

// Expand turns resolved registry paths into targets, one per path and in
// the same order. With no paths every genome of the source is selected.
// An empty result is fatal (ErrNoGenomes).
func Expand(resolved []regpath.Path, source *registry.Config) ([]Target, error) {
	var targets []Target

	if len(resolved) > 0 {
		targets = make([]Target, 0, len(resolved))
		for _, p := range resolved {
			if p.Namespace == "" {
				continue
			}

			targets = append(targets, Target{Genome: p.Namespace, Asset: p.Item, Tag: p.Tag})
		}
	} else {
		for _, g := range source.GenomesList() {
			targets = append(targets, Target{Genome: g})
		}
	}

	if len(targets) == 0 {
		return nil, ErrNoGenomes
	}

	return targets, nil
}

// assets lists the asset names a target covers in cfg.
func (t Target) assets(cfg *registry.Config) ([]string, error) {
	if t.Asset != "" {
		return []string{t.Asset}, nil
	}

	return cfg.AssetsByGenome(t.Genome)
}

// tags lists the tag names a target covers for one asset in cfg.
func (t Target) tags(cfg *registry.Config, asset string) ([]string, error) {
	if t.Tag != "" {
		return []string{t.Tag}, nil
	}

	return cfg.TagsByAsset(t.Genome, asset)
}
