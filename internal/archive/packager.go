package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// buildMetaDir holds build recipes and logs inside a tag directory. It is
// never packaged; its manifests are copied next to the archive instead.
const buildMetaDir = "_refgenie_build"

// Packager produces a gzip-compressed tarball at target from the contents
// of srcDir, with every entry nested under assetName/. A missing srcDir is
// reported as ErrSourceMissing. Implementations must leave any existing
// target untouched on failure.
type Packager interface {
	Name() string
	Pack(ctx context.Context, fsys afero.Fs, srcDir, assetName, target string) error
}

// Packager names accepted by SelectPackager.
const (
	PackagerAuto = "auto"
	PackagerGzip = "gzip"
	PackagerPigz = "pigz"
)

var lookPath = exec.LookPath

// SelectPackager returns the packager for name. "auto" prefers pigz when it
// is on PATH and falls back to the in-process gzip writer.
func SelectPackager(name string, logger *slog.Logger) (Packager, error) {
	switch name {
	case PackagerGzip:
		return gzipPackager{}, nil
	case PackagerPigz:
		p, err := lookPath("pigz")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoPigz, err)
		}

		return pigzPackager{bin: p}, nil
	case PackagerAuto, "":
		if p, err := lookPath("pigz"); err == nil {
			logger.Debug("using pigz packager", slog.String("path", p))
			return pigzPackager{bin: p}, nil
		}

		logger.Debug("pigz not found, using gzip packager")

		return gzipPackager{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownPackager, name)
	}
}

type gzipPackager struct{}

func (gzipPackager) Name() string { return PackagerGzip }

func (gzipPackager) Pack(ctx context.Context, fsys afero.Fs, srcDir, assetName, target string) error {
	return packInto(fsys, srcDir, target, func(w io.Writer) error {
		gz := gzip.NewWriter(w)

		if err := writeTar(ctx, fsys, srcDir, assetName, gz); err != nil {
			gz.Close()
			return err
		}

		return gz.Close()
	})
}

// pigzPackager streams the tarball through an external pigz process for
// parallel compression. The tar stream itself is still produced in-process.
type pigzPackager struct {
	bin string
}

func (pigzPackager) Name() string { return PackagerPigz }

func (p pigzPackager) Pack(ctx context.Context, fsys afero.Fs, srcDir, assetName, target string) error {
	return packInto(fsys, srcDir, target, func(w io.Writer) error {
		var stderr bytes.Buffer

		cmd := exec.CommandContext(ctx, p.bin, "-c")
		cmd.Stdout = w
		cmd.Stderr = &stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("pigz stdin: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("starting pigz: %w", err)
		}

		tarErr := writeTar(ctx, fsys, srcDir, assetName, stdin)
		stdin.Close()

		if err := cmd.Wait(); err != nil {
			return fmt.Errorf("pigz: %w: %s", err, strings.TrimSpace(stderr.String()))
		}

		return tarErr
	})
}

// packInto checks srcDir, writes the archive through fill into a temp file
// next to target, and renames it into place only when fill succeeds.
func packInto(fsys afero.Fs, srcDir, target string, fill func(io.Writer) error) error {
	if _, err := fsys.Stat(srcDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceMissing, srcDir)
		}

		return fmt.Errorf("stat %s: %w", srcDir, err)
	}

	dir := filepath.Dir(target)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(fsys, dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp archive: %w", err)
	}

	tmpPath := tmp.Name()
	success := false

	defer func() {
		if !success {
			tmp.Close()
			fsys.Remove(tmpPath)
		}
	}()

	if err := fill(tmp); err != nil {
		return err
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp archive: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp archive: %w", err)
	}

	if err := fsys.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("renaming archive into place: %w", err)
	}

	success = true

	return nil
}

// writeTar walks srcDir and writes an uncompressed tar stream to w. Entries
// keep their layout relative to srcDir, prefixed with assetName/.
func writeTar(ctx context.Context, fsys afero.Fs, srcDir, assetName string, w io.Writer) error {
	tw := tar.NewWriter(w)

	err := afero.Walk(fsys, srcDir, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}

		if info.IsDir() && info.Name() == buildMetaDir && rel != "." {
			return filepath.SkipDir
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			lr, ok := fsys.(afero.LinkReader)
			if !ok {
				return nil
			}

			if link, err = lr.ReadlinkIfPossible(p); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}

		hdr.Name = path.Join(assetName, filepath.ToSlash(rel))
		if info.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)

		return err
	})
	if err != nil {
		return fmt.Errorf("writing tar for %s: %w", srcDir, err)
	}

	return tw.Close()
}
