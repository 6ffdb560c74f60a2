// Package registry models the genome configuration tree shared by the source
// registry and the derived server registry: genomes → assets → tags, stored
// as a YAML document. It provides read-only loading, a writable Store with
// atomic persistence, attribute upserts, removal, and an advisory lock so a
// single archiver owns a server tree at a time.
package registry

import (
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Sentinel errors. All are matchable with errors.Is.
var (
	ErrNotFound              = errors.New("registry: entry not found")
	ErrMissingArchiveFolder  = errors.New("registry: config is missing a '" + KeyGenomeArchive + "' entry")
	ErrIncompatibleVersion   = errors.New("registry: config version is not compatible")
	ErrLocked                = errors.New("registry: config is locked by another process")
	errUnexpectedVersionNode = errors.New("registry: config_version must be a scalar")
)

// Top-level keys of the genome configuration file.
const (
	KeyConfigVersion = "config_version"
	KeyGenomeFolder  = "genome_folder"
	KeyGenomeArchive = "genome_archive"
)

// Config is the root of a genome configuration tree. Keys not modeled here
// are kept in Extra so a load/write cycle does not drop them.
type Config struct {
	Version       Version            `yaml:"config_version,omitempty"`
	GenomeFolder  string             `yaml:"genome_folder,omitempty"`
	GenomeArchive string             `yaml:"genome_archive,omitempty"`
	GenomeServers []string           `yaml:"genome_servers,omitempty"`
	Genomes       map[string]*Genome `yaml:"genomes"`
	Extra         map[string]any     `yaml:",inline"`
}

// Genome is one genome namespace and its assets.
type Genome struct {
	Description string            `yaml:"genome_description,omitempty"`
	Digest      string            `yaml:"genome_digest,omitempty"`
	Assets      map[string]*Asset `yaml:"assets"`
	Extra       map[string]any    `yaml:",inline"`
}

// Asset groups the tags of one asset within a genome.
type Asset struct {
	Description string          `yaml:"asset_description,omitempty"`
	DefaultTag  string          `yaml:"default_tag,omitempty"`
	Tags        map[string]*Tag `yaml:"tags"`
	Extra       map[string]any  `yaml:",inline"`
}

// Tag is a single materialized version of an asset. The archive fields are
// only present once the tag has been packaged into a servable archive.
type Tag struct {
	AssetPath     string            `yaml:"asset_path,omitempty"`
	SeekKeys      map[string]string `yaml:"seek_keys"`
	Parents       []string          `yaml:"asset_parents"`
	Children      []string          `yaml:"asset_children"`
	AssetDigest   *string           `yaml:"asset_digest"`
	ArchiveDigest string            `yaml:"archive_digest,omitempty"`
	ArchiveSize   string            `yaml:"archive_size,omitempty"`
	AssetSize     string            `yaml:"asset_size,omitempty"`
	Extra         map[string]any    `yaml:",inline"`
}

// Servable reports whether the tag carries both mandatory archive attributes.
func (t *Tag) Servable() bool {
	return t != nil && t.ArchiveDigest != "" && t.ArchiveSize != ""
}

// Version is the config_version scalar. Older configs write it as a float
// (0.3), newer ones as a string; both decode to the same textual value.
type Version string

// UnmarshalYAML accepts any scalar.
func (v *Version) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w (line %d)", errUnexpectedVersionNode, n.Line)
	}

	*v = Version(n.Value)

	return nil
}

// MarshalYAML writes numeric versions unquoted, keeping files readable by
// tools that compare config_version as a number.
func (v Version) MarshalYAML() (any, error) {
	tag := "!!str"
	if _, err := strconv.ParseFloat(string(v), 64); err == nil {
		tag = "!!float"
	}

	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: string(v)}, nil
}
