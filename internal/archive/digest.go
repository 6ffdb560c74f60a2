package archive

import (
	"crypto/md5" //nolint:gosec // content fingerprint, matches refgenie archive_digest
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

// Checksum returns the hex MD5 digest of the file at p.
func Checksum(fsys afero.Fs, p string) (string, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", p, err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", p, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Size returns the total size of regular files at p, recursing when p is a
// directory.
func Size(fsys afero.Fs, p string) (int64, error) {
	var total int64

	err := afero.Walk(fsys, p, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			total += info.Size()
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("size %s: %w", p, err)
	}

	return total, nil
}

// HumanSize formats a byte count the way registry size fields are stored.
func HumanSize(n int64) string {
	if n < 0 {
		n = 0
	}

	return humanize.Bytes(uint64(n))
}
