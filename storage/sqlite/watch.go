package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c0deZ3R0/listsync/store"
)

// watcher turns file system events on the database files into external
// change notifications. A file event only counts when data_version moved,
// which filters out this process's own commits and checkpoints.
type watcher struct {
	s    *Store
	fw   *fsnotify.Watcher
	base string

	mu      sync.Mutex
	version int64

	done chan struct{}
	wg   sync.WaitGroup
}

func newWatcher(s *Store) (*watcher, error) {
	abs, err := filepath.Abs(s.config.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: resolve path: %w", opWatch, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opWatch, err)
	}
	// Watch the directory: SQLite replaces the -wal and -journal files.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("%s: watch %s: %w", opWatch, filepath.Dir(abs), err)
	}

	w := &watcher{s: s, fw: fw, base: filepath.Base(abs), done: make(chan struct{})}
	w.sync()

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// sync records the current data_version. Called after local commits.
func (w *watcher) sync() {
	v, err := w.s.dataVersion(context.Background())
	if err != nil {
		return
	}
	w.mu.Lock()
	w.version = v
	w.mu.Unlock()
}

func (w *watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	return strings.HasPrefix(filepath.Base(ev.Name), w.base)
}

func (w *watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.s.config.Debounce)
			} else {
				timer.Reset(w.s.config.Debounce)
			}
			fire = timer.C
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.s.logger.Warn("file watcher error", slog.Any("error", err))
		case <-fire:
			fire = nil
			w.check()
		}
	}
}

func (w *watcher) check() {
	if w.s.checkOpen() != nil {
		return
	}
	v, err := w.s.dataVersion(context.Background())
	if err != nil {
		w.s.logger.Debug("read data_version failed", slog.Any("error", err))
		return
	}
	w.mu.Lock()
	changed := v != w.version
	w.version = v
	w.mu.Unlock()

	if changed {
		w.s.logger.Debug("external commit detected", slog.Int64("data_version", v))
		w.s.Notify(store.OriginExternal)
	}
}

func (w *watcher) close() error {
	close(w.done)
	err := w.fw.Close()
	w.wg.Wait()
	return err
}
