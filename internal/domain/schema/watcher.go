package schema

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"replica/pkg/logger"
)

const reloadDebounce = 200 * time.Millisecond

// Watcher reloads mapping files of registered entities when they change on disk.
// An edit that fails to parse or validate is logged and the previous definition stays.
type Watcher struct {
	dir      string
	database string
	registry *Registry
	log      *logger.Logger

	lifecycleMu sync.Mutex
	started     bool
	fs          *fsnotify.Watcher
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewWatcher creates a watcher for dir feeding registry.
func NewWatcher(dir, database string, registry *Registry, log *logger.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		database: database,
		registry: registry,
		log:      log.WithComponent("schema-watcher"),
	}
}

// Start begins watching. Calling Start twice is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if w.started {
		return nil
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create schema watcher: %w", err)
	}
	if err := fs.Add(w.dir); err != nil {
		_ = fs.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.fs = fs
	w.cancel = cancel
	w.started = true

	w.wg.Add(1)
	go w.loop(ctx)

	w.log.Infow("watching schema definitions", "dir", w.dir)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if !w.started {
		return
	}
	w.cancel()
	_ = w.fs.Close()
	w.wg.Wait()
	w.started = false
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	pending := make(map[string]struct{})
	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			entity, ok := w.entityOf(event.Name)
			if !ok {
				continue
			}
			pending[entity] = struct{}{}
			timer.Reset(reloadDebounce)

		case <-timer.C:
			for entity := range pending {
				_ = w.Reload(entity)
			}
			clear(pending)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warnw("schema watcher error", "error", err)
		}
	}
}

// entityOf maps a file path to a registered source entity.
func (w *Watcher) entityOf(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, FileExt) {
		return "", false
	}
	entity := strings.TrimSuffix(base, FileExt)
	if _, err := w.registry.BySource(entity); err != nil {
		return "", false
	}
	return entity, true
}

// Reload re-reads the definition of entity and swaps it into the registry.
func (w *Watcher) Reload(entity string) error {
	path := filepath.Join(w.dir, entity+FileExt)
	s, err := LoadFile(path, entity, w.database)
	if err == nil {
		err = w.registry.Put(s.WithVersioning())
	}
	if err != nil {
		w.log.Errorw("schema reload rejected, keeping previous definition", "entity", entity, "error", err)
		return err
	}
	w.log.Infow("schema reloaded", "entity", entity, "table", s.Target)
	return nil
}
