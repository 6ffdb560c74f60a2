package archive

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statesOf(r *StatusReport) map[string]string {
	out := make(map[string]string)
	for _, t := range r.Tags {
		out[t.String()] = t.State
	}

	return out
}

func TestStatus_BeforeFirstBuild(t *testing.T) {
	t.Parallel()

	a := newTestArchiver(t, newFixture(t), gzipPackager{}, nil, testOptions())

	report, err := a.Status()
	require.NoError(t, err)
	assert.False(t, report.ServerExists)
	assert.Equal(t, map[string]string{
		"hg38/fasta:default": StatePending,
		"hg38/fasta:draft":   StateIncomplete,
		"hg38/gtf:v1":        StatePending,
		"mm10/fasta:default": StatePending,
	}, statesOf(report))
}

func TestStatus_AfterBuild(t *testing.T) {
	t.Parallel()

	fsys, _ := builtFixture(t, nil)

	// Drop mm10 from the source so its servable tag becomes orphaned.
	require.NoError(t, afero.WriteFile(fsys, sourcePath, []byte(`config_version: 0.3
genome_folder: /data/genomes
genome_archive: /data/archive
genomes:
  hg38:
    assets:
      fasta:
        tags:
          default:
            asset_path: fasta
            seek_keys:
              fasta: hg38.fa
`), 0o644))

	a := newTestArchiver(t, fsys, gzipPackager{}, nil, testOptions())

	report, err := a.Status()
	require.NoError(t, err)
	assert.True(t, report.ServerExists)
	assert.Equal(t, map[string]string{
		"hg38/fasta:default": StateServable,
		"hg38/gtf:v1":        StateOrphaned,
		"mm10/fasta:default": StateOrphaned,
	}, statesOf(report))

	require.Len(t, report.Tags, 3)
	assert.Equal(t, "hg38", report.Tags[0].Genome)
	assert.NotEmpty(t, report.Tags[0].ArchiveSize)
	assert.Equal(t, "mm10", report.Tags[2].Genome)
}
