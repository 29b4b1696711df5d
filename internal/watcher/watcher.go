// Package watcher monitors the store's collection files and triggers a
// rewrite from in-memory state when one is deleted out from under the
// process (the in-memory collections stay the source of truth).
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher observes a set of files within one parent directory and calls
// onMissing(path) when any of them is removed. It watches the parent
// directory, since fsnotify cannot watch files that no longer exist.
type Watcher struct {
	targets   map[string]struct{}
	parent    string
	onMissing func(path string)
	fsw       *fsnotify.Watcher
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	running   bool
	debounce  time.Duration
}

// New creates a watcher for the given files. All targets must share the
// same parent directory.
func New(paths []string, onMissing func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	targets := make(map[string]struct{}, len(paths))
	parent := ""
	for _, p := range paths {
		clean := filepath.Clean(p)
		targets[clean] = struct{}{}
		parent = filepath.Dir(clean)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		targets:   targets,
		parent:    parent,
		onMissing: onMissing,
		fsw:       fsw,
		ctx:       ctx,
		cancel:    cancel,
		debounce:  200 * time.Millisecond,
	}, nil
}

// Start begins watching. Safe to call once; later calls are no-ops.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.fsw.Add(w.parent); err != nil {
		log.Warn().Err(err).Str("path", w.parent).Msg("Failed to watch data directory")
		// Keep running; the store still works without the watcher.
	}

	go w.loop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	timers := make(map[string]*time.Timer)

	for {
		select {
		case <-w.ctx.Done():
			for _, t := range timers {
				t.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			path := filepath.Clean(event.Name)
			if _, tracked := w.targets[path]; !tracked {
				continue
			}

			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				log.Info().Str("path", path).Msg("Collection file removed, scheduling rewrite")
				if t, exists := timers[path]; exists {
					t.Stop()
				}
				p := path
				timers[path] = time.AfterFunc(w.debounce, func() {
					w.onMissing(p)
				})
				continue
			}

			// A recreated target cancels its pending callback; the file
			// was restored by someone else (or by our own rewrite).
			if event.Op&fsnotify.Create != 0 {
				if t, exists := timers[path]; exists {
					t.Stop()
					delete(timers, path)
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}
