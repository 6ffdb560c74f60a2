package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/databio/refgenies/internal/registry"
)

// Verify problem kinds.
const (
	ProblemMissing  = "missing"
	ProblemMismatch = "digest_mismatch"
)

// VerifyProblem is one servable tag whose archive does not match the
// server registry.
type VerifyProblem struct {
	TagRef
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
}

// VerifyReport summarizes a verification pass.
type VerifyReport struct {
	ServerConfig string          `json:"server_config"`
	Verified     int             `json:"verified"`
	Problems     []VerifyProblem `json:"problems"`
}

// Verify re-hashes the archive of every servable tag in the server registry
// and compares it with the recorded archive_digest. It never modifies
// anything.
func (a *Archiver) Verify(ctx context.Context) (*VerifyReport, error) {
	server, err := registry.Load(a.fs, a.serverConfig)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoServerConfig, a.serverConfig)
		}

		return nil, err
	}

	report := &VerifyReport{ServerConfig: a.serverConfig}

	for _, genome := range server.GenomesList() {
		assets, _ := server.AssetsByGenome(genome)

		for _, asset := range assets {
			tags, _ := server.TagsByAsset(genome, asset)

			for _, tag := range tags {
				if err := ctx.Err(); err != nil {
					return report, err
				}

				t, err := server.Tag(genome, asset, tag)
				if err != nil || !t.Servable() {
					continue
				}

				ref := TagRef{Genome: genome, Asset: asset, Tag: tag}
				p := a.ArchivePath(genome, asset, tag)

				sum, err := Checksum(a.fs, p)
				switch {
				case errors.Is(err, fs.ErrNotExist):
					report.Problems = append(report.Problems, VerifyProblem{
						TagRef: ref, Path: p, Kind: ProblemMissing, Expected: t.ArchiveDigest,
					})
				case err != nil:
					return report, err
				case sum != t.ArchiveDigest:
					report.Problems = append(report.Problems, VerifyProblem{
						TagRef: ref, Path: p, Kind: ProblemMismatch, Expected: t.ArchiveDigest, Actual: sum,
					})
				default:
					report.Verified++
				}
			}
		}
	}

	return report, nil
}
