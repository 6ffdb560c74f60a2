package archive

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWatcher struct {
	events chan fsnotify.Event
	errs   chan error
	added  []string
	closed atomic.Bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan fsnotify.Event, 8), errs: make(chan error, 1)}
}

func (f *fakeWatcher) Add(name string) error {
	f.added = append(f.added, name)
	return nil
}

func (f *fakeWatcher) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeWatcher) Errors() <-chan error          { return f.errs }

func TestWatch_RebuildsOnChange(t *testing.T) {
	t.Parallel()

	w := newFakeWatcher()

	var runs atomic.Int32

	rebuilt := make(chan struct{}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, WatchConfig{
			Path:     "/cfg/genomes.yaml",
			Watcher:  w,
			Debounce: 50 * time.Millisecond,
			Logger:   testLogger(t),
			Rebuild: func(context.Context) error {
				runs.Add(1)
				rebuilt <- struct{}{}

				return errors.New("rebuild errors are logged")
			},
		})
	}()

	select {
	case <-rebuilt:
	case <-time.After(5 * time.Second):
		t.Fatal("initial rebuild did not run")
	}

	w.events <- fsnotify.Event{Name: "/cfg/other.yaml", Op: fsnotify.Write}
	w.events <- fsnotify.Event{Name: "/cfg/genomes.yaml", Op: fsnotify.Write}
	w.events <- fsnotify.Event{Name: "/cfg/genomes.yaml", Op: fsnotify.Create}

	select {
	case <-rebuilt:
	case <-time.After(5 * time.Second):
		t.Fatal("rebuild after change did not run")
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	assert.Equal(t, int32(2), runs.Load(), "burst coalesced into one rebuild")
	assert.Equal(t, []string{"/cfg"}, w.added)
	assert.True(t, w.closed.Load())
}
