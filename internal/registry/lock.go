package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nightlyone/lockfile"
)

const lockSuffix = ".lock"

// Lock takes the "<path>.lock" pid lock so only one archiver mutates a
// server configuration at a time. A lock left behind by a dead process is
// taken over. The lock file lives on the real filesystem regardless of the
// afero.Fs used for the tree itself. The returned function releases it.
func Lock(path string, logger *slog.Logger) (unlock func(), err error) {
	lockPath, err := filepath.Abs(path + lockSuffix)
	if err != nil {
		return nil, fmt.Errorf("registry: resolving lock path: %w", err)
	}

	if mkdirErr := os.MkdirAll(filepath.Dir(lockPath), dirPermissions); mkdirErr != nil {
		return nil, fmt.Errorf("registry: creating lock directory: %w", mkdirErr)
	}

	lf, err := lockfile.New(lockPath)
	if err != nil {
		return nil, fmt.Errorf("registry: preparing lock file: %w", err)
	}

	if err := lf.TryLock(); err != nil {
		if errors.Is(err, lockfile.ErrBusy) {
			return nil, fmt.Errorf("%w (%s)", ErrLocked, lockPath)
		}

		return nil, fmt.Errorf("registry: acquiring lock %s: %w", lockPath, err)
	}

	logger.Debug("server config locked", slog.String("lock", lockPath))

	return func() {
		if err := lf.Unlock(); err != nil {
			logger.Warn("releasing server config lock",
				slog.String("lock", lockPath), slog.String("error", err.Error()))
		}
	}, nil
}
