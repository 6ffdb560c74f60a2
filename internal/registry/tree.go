package registry

import (
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/go-version"
	"github.com/imdario/mergo"
	"github.com/mitchellh/copystructure"
)

// GenomeAttrs are the genome-level attributes mirrored into the server tree.
type GenomeAttrs struct {
	Description string
	Digest      string
}

// AssetAttrs are the asset-level attributes mirrored into the server tree.
type AssetAttrs struct {
	Description string
	DefaultTag  string
}

// Clone returns a deep copy of the tree.
func (c *Config) Clone() (*Config, error) {
	dup, err := copystructure.Copy(c)
	if err != nil {
		return nil, fmt.Errorf("registry: copying config: %w", err)
	}

	return dup.(*Config), nil
}

// CheckVersion fails with ErrIncompatibleVersion when the config's
// config_version is missing or older than required.
func (c *Config) CheckVersion(required string) error {
	want, err := version.NewVersion(required)
	if err != nil {
		return fmt.Errorf("registry: invalid required version %q: %w", required, err)
	}

	if c.Version == "" {
		return fmt.Errorf("%w: no %s set, need >= %s", ErrIncompatibleVersion, KeyConfigVersion, required)
	}

	have, err := version.NewVersion(string(c.Version))
	if err != nil {
		return fmt.Errorf("%w: unparseable %s %q", ErrIncompatibleVersion, KeyConfigVersion, c.Version)
	}

	if have.LessThan(want) {
		return fmt.Errorf("%w: have %s, need >= %s", ErrIncompatibleVersion, have, want)
	}

	return nil
}

// ArchiveFolder returns the genome_archive entry.
func (c *Config) ArchiveFolder() (string, error) {
	if c.GenomeArchive == "" {
		return "", ErrMissingArchiveFolder
	}

	return c.GenomeArchive, nil
}

// GenomesList returns the genome names in sorted order.
func (c *Config) GenomesList() []string {
	return slices.Sorted(maps.Keys(c.Genomes))
}

// AssetsByGenome returns the asset names of genome in sorted order.
func (c *Config) AssetsByGenome(genome string) ([]string, error) {
	g, err := c.Genome(genome)
	if err != nil {
		return nil, err
	}

	return slices.Sorted(maps.Keys(g.Assets)), nil
}

// TagsByAsset returns the tag names of genome/asset in sorted order.
func (c *Config) TagsByAsset(genome, asset string) ([]string, error) {
	a, err := c.Asset(genome, asset)
	if err != nil {
		return nil, err
	}

	return slices.Sorted(maps.Keys(a.Tags)), nil
}

// Genome looks up a genome entry.
func (c *Config) Genome(genome string) (*Genome, error) {
	g, ok := c.Genomes[genome]
	if !ok || g == nil {
		return nil, fmt.Errorf("%w: genome %q", ErrNotFound, genome)
	}

	return g, nil
}

// Asset looks up an asset entry.
func (c *Config) Asset(genome, asset string) (*Asset, error) {
	g, err := c.Genome(genome)
	if err != nil {
		return nil, err
	}

	a, ok := g.Assets[asset]
	if !ok || a == nil {
		return nil, fmt.Errorf("%w: asset %s/%s", ErrNotFound, genome, asset)
	}

	return a, nil
}

// Tag looks up a tag entry.
func (c *Config) Tag(genome, asset, tag string) (*Tag, error) {
	a, err := c.Asset(genome, asset)
	if err != nil {
		return nil, err
	}

	t, ok := a.Tags[tag]
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: tag %s/%s:%s", ErrNotFound, genome, asset, tag)
	}

	return t, nil
}

// IsAssetComplete reports whether a tag has finished building on the source
// side: it must declare both its path and its seek keys.
func (c *Config) IsAssetComplete(genome, asset, tag string) (bool, error) {
	t, err := c.Tag(genome, asset, tag)
	if err != nil {
		return false, err
	}

	return t.AssetPath != "" && t.SeekKeys != nil, nil
}

// SetGenomeDefaults fills absent genome attributes with the placeholders and
// returns the resulting values. Only the in-memory tree is changed.
func (c *Config) SetGenomeDefaults(genome, descPlaceholder, digestPlaceholder string) (GenomeAttrs, error) {
	g, err := c.Genome(genome)
	if err != nil {
		return GenomeAttrs{}, err
	}

	if g.Description == "" {
		g.Description = descPlaceholder
	}

	if g.Digest == "" {
		g.Digest = digestPlaceholder
	}

	return GenomeAttrs{Description: g.Description, Digest: g.Digest}, nil
}

// SetAssetDefaults is the asset-level counterpart of SetGenomeDefaults.
func (c *Config) SetAssetDefaults(genome, asset, descPlaceholder, defaultTag string) (AssetAttrs, error) {
	a, err := c.Asset(genome, asset)
	if err != nil {
		return AssetAttrs{}, err
	}

	if a.Description == "" {
		a.Description = descPlaceholder
	}

	if a.DefaultTag == "" {
		a.DefaultTag = defaultTag
	}

	return AssetAttrs{Description: a.Description, DefaultTag: a.DefaultTag}, nil
}

// UpdateGenome merges attrs into the genome entry, creating it if needed.
// Empty attribute values leave the existing value untouched.
func (c *Config) UpdateGenome(genome string, attrs GenomeAttrs) error {
	g := c.ensureGenome(genome)

	src := &Genome{Description: attrs.Description, Digest: attrs.Digest}
	if err := mergo.Merge(g, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("registry: updating genome %q: %w", genome, err)
	}

	return nil
}

// UpdateAsset merges attrs into the asset entry, creating ancestors as needed.
func (c *Config) UpdateAsset(genome, asset string, attrs AssetAttrs) error {
	a := c.ensureAsset(genome, asset)

	src := &Asset{Description: attrs.Description, DefaultTag: attrs.DefaultTag}
	if err := mergo.Merge(a, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("registry: updating asset %s/%s: %w", genome, asset, err)
	}

	return nil
}

// UpdateTag sets the full attribute set of a tag, creating ancestors as
// needed. Keys outside the modeled attribute set are preserved.
func (c *Config) UpdateTag(genome, asset, tag string, attrs Tag) {
	a := c.ensureAsset(genome, asset)

	extra := attrs.Extra
	if prev, ok := a.Tags[tag]; ok && prev != nil && len(prev.Extra) > 0 {
		extra = maps.Clone(prev.Extra)
		maps.Copy(extra, attrs.Extra)
	}

	attrs.Extra = extra
	if attrs.SeekKeys == nil {
		attrs.SeekKeys = map[string]string{}
	}

	if attrs.Parents == nil {
		attrs.Parents = []string{}
	}

	if attrs.Children == nil {
		attrs.Children = []string{}
	}

	a.Tags[tag] = &attrs
}

// RemoveAssets deletes a selection from the tree. An empty asset removes the
// whole genome; an empty tag removes every tag of the asset. Assets and
// genomes left without children are removed as well. Returns ErrNotFound
// when the selection does not exist.
func (c *Config) RemoveAssets(genome, asset, tag string) error {
	g, err := c.Genome(genome)
	if err != nil {
		return err
	}

	if asset == "" {
		delete(c.Genomes, genome)
		return nil
	}

	a, err := c.Asset(genome, asset)
	if err != nil {
		return err
	}

	if tag == "" {
		delete(g.Assets, asset)
	} else {
		if _, err := c.Tag(genome, asset, tag); err != nil {
			return err
		}

		delete(a.Tags, tag)

		if len(a.Tags) == 0 {
			delete(g.Assets, asset)
		}
	}

	if len(g.Assets) == 0 {
		delete(c.Genomes, genome)
	}

	return nil
}

// RemoveTag deletes a single tag without touching its ancestors. Reports
// whether anything was removed.
func (c *Config) RemoveTag(genome, asset, tag string) bool {
	a, err := c.Asset(genome, asset)
	if err != nil {
		return false
	}

	if _, ok := a.Tags[tag]; !ok {
		return false
	}

	delete(a.Tags, tag)

	return true
}

func (c *Config) ensureGenome(genome string) *Genome {
	if c.Genomes == nil {
		c.Genomes = make(map[string]*Genome)
	}

	g, ok := c.Genomes[genome]
	if !ok || g == nil {
		g = &Genome{}
		c.Genomes[genome] = g
	}

	if g.Assets == nil {
		g.Assets = make(map[string]*Asset)
	}

	return g
}

func (c *Config) ensureAsset(genome, asset string) *Asset {
	g := c.ensureGenome(genome)

	a, ok := g.Assets[asset]
	if !ok || a == nil {
		a = &Asset{}
		g.Assets[asset] = a
	}

	if a.Tags == nil {
		a.Tags = make(map[string]*Tag)
	}

	return a
}
