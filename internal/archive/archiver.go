// Package archive reconciles a source genome registry with its servable
// mirror. A build walks the selected genome/asset:tag triples, packages each
// complete tag into {archiveRoot}/{genome}/{asset}__{tag}.tgz, records the
// archive digest and sizes in the server registry, and persists the server
// registry after every tag so an interrupted run loses at most one tag of
// work. A final prune guarantees the server registry never advertises a tag
// without both archive_digest and archive_size. Remove is the inverse path.
//
// Execution is strictly sequential: one genome, asset, and tag at a time.
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
)

// Fatal selection errors.
var (
	ErrNoGenomes       = errors.New("archive: no genomes found")
	ErrEmptySelection  = errors.New("archive: removal requires at least one registry path")
	ErrNoServerConfig  = errors.New("archive: server config does not exist yet")
	ErrSourceMissing   = errors.New("archive: entity does not exist")
	ErrNoPigz          = errors.New("archive: pigz is not available on PATH")
	errUnknownPackager = errors.New("archive: unknown packager")
)

// Options are the tunables that would otherwise be package constants.
type Options struct {
	DescriptionPlaceholder string
	DigestPlaceholder      string
	DefaultTag             string
	RequiredVersion        string

	// Descriptions maps genome name to a description that overrides the one
	// in the source registry.
	Descriptions map[string]string
}

// Recorder receives one outcome per entity decision. Satisfied by
// *ledger.RunRecorder.
type Recorder interface {
	Record(ctx context.Context, o ledger.Outcome) error
}

// Config holds the dependencies for New.
type Config struct {
	FS         afero.Fs
	Source     *registry.Config // source registry, read-only on disk
	SourcePath string           // file the source registry was loaded from
	Packager   Packager
	Recorder   Recorder // optional
	Logger     *slog.Logger
	Options    Options
}

// Archiver builds and removes servable archives for one source registry.
type Archiver struct {
	fs           afero.Fs
	source       *registry.Config
	packager     Packager
	recorder     Recorder
	logger       *slog.Logger
	opts         Options
	archiveRoot  string
	serverConfig string
}

// New validates the source registry and returns an Archiver. An
// incompatible config version or a missing genome_archive entry is fatal.
func New(cfg *Config) (*Archiver, error) {
	if err := cfg.Source.CheckVersion(cfg.Options.RequiredVersion); err != nil {
		return nil, fmt.Errorf("archive: %s: %w", cfg.SourcePath, err)
	}

	root, err := cfg.Source.ArchiveFolder()
	if err != nil {
		return nil, fmt.Errorf("archive: %s: %w", cfg.SourcePath, err)
	}

	return &Archiver{
		fs:           cfg.FS,
		source:       cfg.Source,
		packager:     cfg.Packager,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
		opts:         cfg.Options,
		archiveRoot:  root,
		serverConfig: filepath.Join(root, filepath.Base(cfg.SourcePath)),
	}, nil
}

// WithRecorder returns a copy of a that reports outcomes to r.
func (a *Archiver) WithRecorder(r Recorder) *Archiver {
	dup := *a
	dup.recorder = r

	return &dup
}

// ServerConfigPath returns the path of the server registry this archiver
// maintains: the source file name placed under the archive root.
func (a *Archiver) ServerConfigPath() string {
	return a.serverConfig
}

// ArchivePath returns the archive file for one genome/asset:tag.
func (a *Archiver) ArchivePath(genome, asset, tag string) string {
	return filepath.Join(a.archiveRoot, genome, archiveName(asset, tag))
}

func archiveName(asset, tag string) string {
	return asset + "__" + tag + ".tgz"
}

// TagRef names one genome/asset:tag triple.
type TagRef struct {
	Genome string `json:"genome"`
	Asset  string `json:"asset,omitempty"`
	Tag    string `json:"tag,omitempty"`
}

func (r TagRef) String() string {
	return r.Genome + "/" + r.Asset + ":" + r.Tag
}

func (a *Archiver) record(ctx context.Context, ref TagRef, action ledger.Action, mutate ...func(*ledger.Outcome)) {
	if a.recorder == nil {
		return
	}

	o := ledger.Outcome{Genome: ref.Genome, Asset: ref.Asset, Tag: ref.Tag, Action: action}
	for _, m := range mutate {
		m(&o)
	}

	if err := a.recorder.Record(context.WithoutCancel(ctx), o); err != nil {
		a.logger.Warn("could not record outcome", slog.String("entity", ref.String()), slog.String("error", err.Error()))
	}
}
