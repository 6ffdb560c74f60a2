package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/databio/refgenies/internal/ledger"
	"github.com/databio/refgenies/internal/registry"
	"github.com/databio/refgenies/internal/regpath"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

const (
	sourcePath = "/cfg/genomes.yaml"
	serverPath = "/data/archive/genomes.yaml"
)

const sourceConfig = `config_version: 0.3
genome_folder: /data/genomes
genome_archive: /data/archive
genomes:
  hg38:
    genome_description: Human
    assets:
      fasta:
        asset_description: DNA sequences
        default_tag: default
        tags:
          default:
            asset_path: fasta
            seek_keys:
              fasta: hg38.fa
            asset_parents: []
            asset_children: []
            asset_digest: abc123
          draft:
            asset_path: fasta
      gtf:
        tags:
          v1:
            asset_path: gtf
            seek_keys:
              gtf: hg38.gtf
  mm10:
    assets:
      fasta:
        tags:
          default:
            asset_path: fasta
            seek_keys:
              fasta: mm10.fa
`

// newFixture lays out a source registry with materialized tag directories.
func newFixture(t *testing.T) afero.Fs {
	t.Helper()

	fsys := afero.NewMemMapFs()
	files := map[string]string{
		sourcePath: sourceConfig,
		"/data/genomes/hg38/fasta/default/hg38.fa":                                          ">chr1\nACGT\n",
		"/data/genomes/hg38/fasta/default/_refgenie_build/build_recipe_fasta__default.json": `{"asset":"fasta"}`,
		"/data/genomes/hg38/fasta/default/_refgenie_build/refgenie_log.md":                  "# log\n",
		"/data/genomes/hg38/gtf/v1/hg38.gtf":                                                "chr1\tgene\n",
		"/data/genomes/mm10/fasta/default/mm10.fa":                                          ">chr1\nTTTT\n",
	}

	for p, content := range files {
		require.NoError(t, afero.WriteFile(fsys, p, []byte(content), 0o644))
	}

	return fsys
}

func testOptions() Options {
	return Options{
		DescriptionPlaceholder: "Not available",
		DigestPlaceholder:      "Not available",
		DefaultTag:             "default",
		RequiredVersion:        "0.3",
	}
}

func newTestArchiver(t *testing.T, fsys afero.Fs, pk Packager, rec Recorder, opts Options) *Archiver {
	t.Helper()

	src, err := registry.Load(fsys, sourcePath)
	require.NoError(t, err)

	a, err := New(&Config{
		FS:         fsys,
		Source:     src,
		SourcePath: sourcePath,
		Packager:   pk,
		Recorder:   rec,
		Logger:     testLogger(t),
		Options:    opts,
	})
	require.NoError(t, err)

	return a
}

// fakePackager wraps the gzip packager, counting calls and failing for
// configured targets.
type fakePackager struct {
	fail  map[string]error
	calls []string
}

func (f *fakePackager) Name() string { return "fake" }

func (f *fakePackager) Pack(ctx context.Context, fsys afero.Fs, srcDir, assetName, target string) error {
	f.calls = append(f.calls, target)

	if err, ok := f.fail[target]; ok {
		return err
	}

	return gzipPackager{}.Pack(ctx, fsys, srcDir, assetName, target)
}

type recordingRecorder struct {
	outcomes []ledger.Outcome
}

func (r *recordingRecorder) Record(_ context.Context, o ledger.Outcome) error {
	r.outcomes = append(r.outcomes, o)
	return nil
}

func (r *recordingRecorder) actions() map[string]ledger.Action {
	out := make(map[string]ledger.Action)
	for _, o := range r.outcomes {
		out[TagRef{Genome: o.Genome, Asset: o.Asset, Tag: o.Tag}.String()] = o.Action
	}

	return out
}

func mustParse(t *testing.T, raws ...string) []regpath.Path {
	t.Helper()

	paths, err := regpath.ParseAll(raws)
	require.NoError(t, err)

	return paths
}

func loadServer(t *testing.T, fsys afero.Fs) *registry.Config {
	t.Helper()

	cfg, err := registry.Load(fsys, serverPath)
	require.NoError(t, err)

	return cfg
}

func tarNames(t *testing.T, fsys afero.Fs, p string) []string {
	t.Helper()

	f, err := fsys.Open(p)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	var names []string

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		require.NoError(t, err)
		names = append(names, hdr.Name)
	}

	return names
}

func TestNew_FatalConfigProblems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"missing archive folder", "config_version: 0.3\ngenome_folder: /g\ngenomes: {}\n", registry.ErrMissingArchiveFolder},
		{"old version", "config_version: 0.2\ngenome_archive: /a\ngenomes: {}\n", registry.ErrIncompatibleVersion},
		{"no version", "genome_archive: /a\ngenomes: {}\n", registry.ErrIncompatibleVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fsys := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fsys, sourcePath, []byte(tt.content), 0o644))

			src, err := registry.Load(fsys, sourcePath)
			require.NoError(t, err)

			_, err = New(&Config{FS: fsys, Source: src, SourcePath: sourcePath, Packager: gzipPackager{}, Logger: testLogger(t), Options: testOptions()})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestServerConfigPath(t *testing.T) {
	t.Parallel()

	a := newTestArchiver(t, newFixture(t), gzipPackager{}, nil, testOptions())
	assert.Equal(t, serverPath, a.ServerConfigPath())
	assert.Equal(t, "/data/archive/hg38/fasta__default.tgz", a.ArchivePath("hg38", "fasta", "default"))
}

func TestBuild_FromScratch(t *testing.T) {
	t.Parallel()

	fsys := newFixture(t)
	rec := &recordingRecorder{}
	a := newTestArchiver(t, fsys, gzipPackager{}, rec, testOptions())

	report, err := a.Build(context.Background(), nil, BuildOpts{})
	require.NoError(t, err)

	assert.Equal(t, serverPath, report.ServerConfig)
	assert.Len(t, report.Built, 3)
	assert.Equal(t, []TagRef{{Genome: "hg38", Asset: "fasta", Tag: "draft"}}, report.Incomplete)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Pruned)

	server := loadServer(t, fsys)

	tag, err := server.Tag("hg38", "fasta", "default")
	require.NoError(t, err)

	sum, err := Checksum(fsys, "/data/archive/hg38/fasta__default.tgz")
	require.NoError(t, err)
	assert.Equal(t, sum, tag.ArchiveDigest)
	assert.NotEmpty(t, tag.ArchiveSize)
	assert.Equal(t, "34 B", tag.AssetSize, "build metadata counts toward asset size")
	require.NotNil(t, tag.AssetDigest)
	assert.Equal(t, "abc123", *tag.AssetDigest)
	assert.Equal(t, map[string]string{"fasta": "hg38.fa"}, tag.SeekKeys)

	_, err = server.Tag("hg38", "fasta", "draft")
	require.ErrorIs(t, err, registry.ErrNotFound)

	g, err := server.Genome("mm10")
	require.NoError(t, err)
	assert.Equal(t, "Not available", g.Description)
	assert.Equal(t, "Not available", g.Digest)

	asset, err := server.Asset("mm10", "fasta")
	require.NoError(t, err)
	assert.Equal(t, "default", asset.DefaultTag)

	recipe, err := afero.ReadFile(fsys, "/data/archive/hg38/build_recipe_fasta__default.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"asset":"fasta"}`, string(recipe))

	exists, err := afero.Exists(fsys, "/data/archive/hg38/build_log_fasta__default.md")
	require.NoError(t, err)
	assert.True(t, exists)

	names := tarNames(t, fsys, "/data/archive/hg38/fasta__default.tgz")
	assert.Contains(t, names, "fasta/hg38.fa")
	for _, n := range names {
		assert.NotContains(t, n, buildMetaDir)
	}

	actions := rec.actions()
	assert.Equal(t, ledger.ActionBuilt, actions["hg38/fasta:default"])
	assert.Equal(t, ledger.ActionIncomplete, actions["hg38/fasta:draft"])
}

func TestBuild_EveryServerTagIsServable(t *testing.T) {
	t.Parallel()

	fsys := newFixture(t)
	pk := &fakePackager{fail: map[string]error{
		"/data/archive/hg38/gtf__v1.tgz": errors.New("disk full"),
	}}
	a := newTestArchiver(t, fsys, pk, nil, testOptions())

	report, err := a.Build(context.Background(), nil, BuildOpts{})
	require.NoError(t, err)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, TagRef{Genome: "hg38", Asset: "gtf", Tag: "v1"}, report.Failed[0].TagRef)
	assert.Len(t, report.Built, 2)

	server := loadServer(t, fsys)
	for _, g := range server.GenomesList() {
		assets, err := server.AssetsByGenome(g)
		require.NoError(t, err)

		for _, asset := range assets {
			tags, err := server.TagsByAsset(g, asset)
			require.NoError(t, err)

			for _, tag := range tags {
				tg, err := server.Tag(g, asset, tag)
				require.NoError(t, err)
				assert.True(t, tg.Servable(), "%s/%s:%s", g, asset, tag)
			}
		}
	}

	assert.Contains(t, report.Pruned, TagRef{Genome: "hg38", Asset: "gtf", Tag: "v1"})

	gtf, err := server.Asset("hg38", "gtf")
	require.NoError(t, err, "asset left empty by pruning is kept")
	assert.Empty(t, gtf.Tags)
}

func TestBuild_MissingSourceDirectoryIsIsolated(t *testing.T) {
	t.Parallel()

	fsys := newFixture(t)
	require.NoError(t, fsys.RemoveAll("/data/genomes/hg38/gtf"))

	a := newTestArchiver(t, fsys, gzipPackager{}, nil, testOptions())

	report, err := a.Build(context.Background(), nil, BuildOpts{})
	require.NoError(t, err)

	require.Len(t, report.Failed, 1)
	require.ErrorIs(t, report.Failed[0].Err, ErrSourceMissing)

	assert.Equal(t, "hg38/gtf:v1", report.Failed[0].TagRef.String())

	exists, err := afero.Exists(fsys, "/data/archive/mm10/fasta__default.tgz")
	require.NoError(t, err)
	assert.True(t, exists, "later genomes still build")

	server := loadServer(t, fsys)

	for _, ref := range []TagRef{
		{Genome: "hg38", Asset: "fasta", Tag: "default"},
		{Genome: "mm10", Asset: "fasta", Tag: "default"},
	} {
		tag, err := server.Tag(ref.Genome, ref.Asset, ref.Tag)
		require.NoError(t, err, ref.String())
		assert.True(t, tag.Servable(), ref.String())
	}

	_, err = server.Tag("hg38", "gtf", "v1")
	require.ErrorIs(t, err, registry.ErrNotFound, "failed tag is not advertised")
}

func TestBuild_RestoresEntriesForArchivesOnDisk(t *testing.T) {
	t.Parallel()

	fsys := newFixture(t)
	pk := &fakePackager{}
	a := newTestArchiver(t, fsys, pk, nil, testOptions())

	_, err := a.Build(context.Background(), nil, BuildOpts{})
	require.NoError(t, err)

	before := loadServer(t, fsys)
	want, err := before.Tag("hg38", "fasta", "default")
	require.NoError(t, err)

	require.NoError(t, fsys.Remove(serverPath))

	calls := len(pk.calls)
	rec := &recordingRecorder{}
	again := newTestArchiver(t, fsys, pk, rec, testOptions())

	report, err := again.Build(context.Background(), nil, BuildOpts{})
	require.NoError(t, err)

	assert.Len(t, pk.calls, calls, "archives on disk are not repackaged")
	assert.Len(t, report.Existing, 3)
	assert.Empty(t, report.Pruned)

	after := loadServer(t, fsys)

	for _, ref := range []TagRef{
		{Genome: "hg38", Asset: "fasta", Tag: "default"},
		{Genome: "hg38", Asset: "gtf", Tag: "v1"},
		{Genome: "mm10", Asset: "fasta", Tag: "default"},
	} {
		tag, err := after.Tag(ref.Genome, ref.Asset, ref.Tag)
		require.NoError(t, err, ref.String())
		assert.True(t, tag.Servable(), ref.String())
	}

	got, err := after.Tag("hg38", "fasta", "default")
	require.NoError(t, err)
	assert.Equal(t, want.ArchiveDigest, got.ArchiveDigest)
	assert.Equal(t, want.ArchiveSize, got.ArchiveSize)
	assert.Equal(t, want.AssetSize, got.AssetSize)

	for _, o := range rec.outcomes {
		if o.Action == ledger.ActionExists {
			assert.NotEmpty(t, o.ArchiveDigest, "restored outcome carries the digest")
		}
	}
}

func TestBuild_Idempotent(t *testing.T) {
	t.Parallel()

	fsys := newFixture(t)
	pk := &fakePackager{}
	rec := &recordingRecorder{}
	a := newTestArchiver(t, fsys, pk, rec, testOptions())

	_, err := a.Build(context.Background(), nil, BuildOpts{})
	require.NoError(t, err)

	first, err := afero.ReadFile(fsys, serverPath)
	require.NoError(t, err)

	calls := len(pk.calls)
	rec.outcomes = nil

	report, err := a.Build(context.Background(), nil, BuildOpts{})
	require.NoError(t, err)

	second, err := afero.ReadFile(fsys, serverPath)
	require.NoError(t, err)

	assert.Len(t, pk.calls, calls, "no repackaging")
	assert.Equal(t, string(first), string(second))
	assert.Empty(t, report.Built)
	assert.Len(t, report.Existing, 3)
	assert.Equal(t, ledger.ActionExists, rec.actions()["mm10/fasta:default"])
}

func TestBuild_ForceRepackages(t *testing.T) {
	t.Parallel()

	fsys := newFixture(t)
	pk := &fakePackager{}
	a := newTestArchiver(t, fsys, pk, nil, testOptions())

	_, err := a.Build(context.Background(), nil, BuildOpts{})
	require.NoError(t, err)

	calls := len(pk.calls)

	require.NoError(t, afero.WriteFile(fsys, "/data/genomes/mm10/fasta/default/mm10.fa", []byte(">chr1\nGGGGGGGG\n"), 0o644))

	report, err := a.Build(context.Background(), mustParse(t, "mm10"), BuildOpts{Force: true})
	require.NoError(t, err)

	assert.Len(t, pk.calls, calls+1)
	assert.Equal(t, []TagRef{{Genome: "mm10", Asset: "fasta", Tag: "default"}}, report.Built)

	tag, err := loadServer(t, fsys).Tag("mm10", "fasta", "default")
	require.NoError(t, err)

	sum, err := Checksum(fsys, "/data/archive/mm10/fasta__default.tgz")
	require.NoError(t, err)
	assert.Equal(t, sum, tag.ArchiveDigest)
	assert.Equal(t, "15 B", tag.AssetSize)
}

func TestBuild_ForcedRebuildFailureKeepsPreviousEntry(t *testing.T) {
	t.Parallel()

	fsys := newFixture(t)
	pk := &fakePackager{}
	a := newTestArchiver(t, fsys, pk, nil, testOptions())

	_, err := a.Build(context.Background(), nil, BuildOpts{})
	require.NoError(t, err)

	target := "/data/archive/mm10/fasta__default.tgz"
	before, err := afero.ReadFile(fsys, target)
	require.NoError(t, err)

	oldTag, err := loadServer(t, fsys).Tag("mm10", "fasta", "default")
	require.NoError(t, err)

	pk.fail = map[string]error{target: errors.New("pigz crashed")}

	report, err := a.Build(context.Background(), mustParse(t, "mm10/fasta:default"), BuildOpts{Force: true})
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)

	after, err := afero.ReadFile(fsys, target)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	tag, err := loadServer(t, fsys).Tag("mm10", "fasta", "default")
	require.NoError(t, err)
	assert.Equal(t, oldTag.ArchiveDigest, tag.ArchiveDigest)
	assert.Equal(t, oldTag.ArchiveSize, tag.ArchiveSize)
}

func TestBuild_ExplicitSelection(t *testing.T) {
	t.Parallel()

	fsys := newFixture(t)
	pk := &fakePackager{}
	a := newTestArchiver(t, fsys, pk, nil, testOptions())

	report, err := a.Build(context.Background(), mustParse(t, "hg38/fasta:default"), BuildOpts{})
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/archive/hg38/fasta__default.tgz"}, pk.calls)
	assert.Equal(t, []TagRef{{Genome: "hg38", Asset: "fasta", Tag: "default"}}, report.Built)

	// Unselected tags were seeded from the source without archive
	// attributes and are pruned.
	assert.Contains(t, report.Pruned, TagRef{Genome: "mm10", Asset: "fasta", Tag: "default"})
	assert.Contains(t, report.Pruned, TagRef{Genome: "hg38", Asset: "gtf", Tag: "v1"})
}

func TestBuild_BareGenomeSelectsWholeGenome(t *testing.T) {
	t.Parallel()

	fsys := newFixture(t)
	pk := &fakePackager{}
	a := newTestArchiver(t, fsys, pk, nil, testOptions())

	_, err := a.Build(context.Background(), mustParse(t, "hg38"), BuildOpts{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"/data/archive/hg38/fasta__default.tgz",
		"/data/archive/hg38/gtf__v1.tgz",
	}, pk.calls)
}

func TestBuild_UnknownSelectionIsSkipped(t *testing.T) {
	t.Parallel()

	fsys := newFixture(t)
	rec := &recordingRecorder{}
	a := newTestArchiver(t, fsys, &fakePackager{}, rec, testOptions())

	report, err := a.Build(context.Background(), mustParse(t, "rn6", "hg38/bowtie2", "hg38/fasta:nope", "mm10"), BuildOpts{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []TagRef{
		{Genome: "rn6"},
		{Genome: "hg38", Asset: "bowtie2"},
		{Genome: "hg38", Asset: "fasta", Tag: "nope"},
	}, report.Missing)
	assert.Equal(t, []TagRef{{Genome: "mm10", Asset: "fasta", Tag: "default"}}, report.Built)
	assert.Equal(t, ledger.ActionMissing, rec.actions()["rn6/:"])
}

func TestBuild_NoGenomes(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, sourcePath, []byte("config_version: 0.3\ngenome_archive: /data/archive\ngenomes: {}\n"), 0o644))

	a := newTestArchiver(t, fsys, gzipPackager{}, nil, testOptions())

	_, err := a.Build(context.Background(), nil, BuildOpts{})
	require.ErrorIs(t, err, ErrNoGenomes)

	exists, err := afero.Exists(fsys, serverPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBuild_PrunesExistingServerEntries(t *testing.T) {
	t.Parallel()

	fsys := newFixture(t)
	require.NoError(t, afero.WriteFile(fsys, serverPath, []byte(`config_version: 0.3
genome_archive: /data/archive
genomes:
  old:
    assets:
      bowtie2:
        tags:
          v0:
            asset_path: bowtie2
            seek_keys: {}
            archive_digest: deadbeef
`), 0o644))

	a := newTestArchiver(t, fsys, &fakePackager{}, nil, testOptions())

	report, err := a.Build(context.Background(), mustParse(t, "mm10"), BuildOpts{})
	require.NoError(t, err)

	assert.Equal(t, []TagRef{{Genome: "old", Asset: "bowtie2", Tag: "v0"}}, report.Pruned)

	server := loadServer(t, fsys)
	asset, err := server.Asset("old", "bowtie2")
	require.NoError(t, err)
	assert.Empty(t, asset.Tags)

	_, err = server.Tag("mm10", "fasta", "default")
	require.NoError(t, err)
}

func TestBuild_DescriptionsOverrideGenome(t *testing.T) {
	t.Parallel()

	fsys := newFixture(t)
	opts := testOptions()
	opts.Descriptions = map[string]string{"hg38": "GRCh38 primary assembly"}

	a := newTestArchiver(t, fsys, &fakePackager{}, nil, opts)

	_, err := a.Build(context.Background(), nil, BuildOpts{})
	require.NoError(t, err)

	g, err := loadServer(t, fsys).Genome("hg38")
	require.NoError(t, err)
	assert.Equal(t, "GRCh38 primary assembly", g.Description)
}

func TestBuild_CanceledStopsBetweenTags(t *testing.T) {
	t.Parallel()

	fsys := newFixture(t)
	pk := &fakePackager{}
	a := newTestArchiver(t, fsys, pk, nil, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := a.Build(ctx, nil, BuildOpts{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, pk.calls)

	exists, err := afero.Exists(fsys, serverPath)
	require.NoError(t, err)
	assert.True(t, exists, "server config still written")
}
