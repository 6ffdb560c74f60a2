package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDebounce     = 2 * time.Second
	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = 30 * time.Second
)

// FsWatcher is the subset of *fsnotify.Watcher used by Watch.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// NewFsWatcher returns an FsWatcher backed by fsnotify.
func NewFsWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWatcher{w: w}, nil
}

// WatchConfig configures Watch.
type WatchConfig struct {
	// Path is the source genome config file to watch.
	Path     string
	Watcher  FsWatcher
	Debounce time.Duration
	Logger   *slog.Logger
	// Rebuild runs one build. Errors are logged and watching continues.
	Rebuild func(ctx context.Context) error
}

// Watch runs Rebuild once, then again after every burst of changes to the
// watched file, until ctx is canceled. The parent directory is watched so
// editors that replace the file by rename are still seen. Rebuilds never
// overlap; changes arriving during a rebuild schedule exactly one more.
func Watch(ctx context.Context, cfg WatchConfig) error {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	dir := filepath.Dir(cfg.Path)
	if err := cfg.Watcher.Add(dir); err != nil {
		cfg.Watcher.Close()
		return fmt.Errorf("archive: watching %s: %w", dir, err)
	}

	trigger := make(chan struct{}, 1)
	trigger <- struct{}{}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		defer cfg.Watcher.Close()
		return watchLoop(gctx, cfg, debounce, trigger)
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-trigger:
				cfg.Logger.Info("source config changed, rebuilding", slog.String("path", cfg.Path))

				if err := cfg.Rebuild(gctx); err != nil {
					if gctx.Err() != nil {
						return nil
					}

					cfg.Logger.Error("rebuild failed", slog.String("error", err.Error()))
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// watchLoop coalesces events for the watched file into debounced sends on
// trigger.
func watchLoop(ctx context.Context, cfg WatchConfig, debounce time.Duration, trigger chan<- struct{}) error {
	target := filepath.Clean(cfg.Path)
	errBackoff := watchErrInitBackoff

	timer := time.NewTimer(debounce)
	timer.Stop()

	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-cfg.Watcher.Events():
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}

			cfg.Logger.Debug("watch event", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			timer.Reset(debounce)
			errBackoff = watchErrInitBackoff

		case <-timer.C:
			select {
			case trigger <- struct{}{}:
			default:
			}

		case werr, ok := <-cfg.Watcher.Errors():
			if !ok {
				return nil
			}

			cfg.Logger.Warn("filesystem watcher error",
				slog.String("error", werr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errBackoff):
			}

			errBackoff = min(errBackoff*2, watchErrMaxBackoff)
		}
	}
}
