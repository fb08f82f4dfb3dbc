package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/bundlekit/internal/telemetry"
)

// DefaultDebounce is how long the watcher waits for a burst of file
// events to settle before rebuilding
const DefaultDebounce = 100 * time.Millisecond

// Watcher rebuilds a pipeline whenever one of its sources changes
type Watcher struct {
	pipeline *Pipeline
	debounce time.Duration
	watcher  *fsnotify.Watcher
	dirs     map[string]bool
	sources  map[string]bool
	onBuild  func(*Result, error)
}

// NewWatcher creates a watcher for the pipeline. A non-positive debounce
// uses DefaultDebounce.
func NewWatcher(p *Pipeline, debounce time.Duration) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		pipeline: p,
		debounce: debounce,
		watcher:  watcher,
		dirs:     make(map[string]bool),
		sources:  make(map[string]bool),
	}, nil
}

// OnBuild registers a callback invoked after every build. Must be called before Run.
func (w *Watcher) OnBuild(fn func(*Result, error)) {
	w.onBuild = fn
}

// Run builds once and then rebuilds on every change until ctx is cancelled.
// Build failures are logged and reported to the OnBuild callback; they do
// not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	logger := zerolog.Ctx(ctx)
	w.rebuild(ctx)

	logger.Info().Int("dirs", len(w.dirs)).Int("sources", len(w.sources)).Msg("Watching for changes")

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.awaited(event) {
				w.refresh(ctx)
			} else if !w.relevant(event) {
				continue
			}

			logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Source change detected")

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			telemetry.GetMetrics().RebuildsTotal.Add(ctx, 1)
			w.rebuild(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	return w.sources[filepath.Clean(event.Name)]
}

// awaited reports whether the event creates a missing directory on the
// way to a source.
func (w *Watcher) awaited(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) {
		return false
	}
	prefix := filepath.Clean(event.Name) + string(filepath.Separator)
	for source := range w.sources {
		if strings.HasPrefix(source, prefix) {
			return true
		}
	}
	return false
}

func (w *Watcher) rebuild(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	result, err := w.pipeline.Build(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Build failed, waiting for changes")
	}

	w.refresh(ctx)

	if w.onBuild != nil {
		w.onBuild(result, err)
	}
}

// refresh follows the directories of every current source, so imports
// added by the last build are watched too.
func (w *Watcher) refresh(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	sources := make(map[string]bool)
	for _, source := range w.pipeline.Sources() {
		source = filepath.Clean(source)
		sources[source] = true

		dir := filepath.Dir(source)
		if w.dirs[dir] {
			continue
		}
		if err := w.watch(dir); err != nil {
			logger.Debug().Err(err).Str("dir", dir).Msg("Cannot watch directory")
		}
	}
	w.sources = sources
}

// watch adds dir, or its nearest existing ancestor while dir is missing.
func (w *Watcher) watch(dir string) error {
	for d := dir; ; d = filepath.Dir(d) {
		if w.dirs[d] {
			return nil
		}
		err := w.watcher.Add(d)
		if err == nil {
			w.dirs[d] = true
			return nil
		}
		if _, statErr := os.Stat(d); statErr == nil || filepath.Dir(d) == d {
			return err
		}
	}
}
