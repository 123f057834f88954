package mirror

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watcher notices current mirrors that disappear behind the manager's back
// (an operator deleting or moving them) and marks their sources stale so the
// next sweep writes them again.
type watcher struct {
	m      *Manager
	fs     *fsnotify.Watcher
	logger *slog.Logger
	done   chan struct{}
}

func newWatcher(m *Manager) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(m.dir.Root()); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &watcher{
		m:      m,
		fs:     fw,
		logger: m.logger.With("component", "mirror-watch"),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			id, ok := w.m.dir.ParseMirrorName(filepath.Base(event.Name))
			if !ok {
				continue
			}
			w.m.mirrorVanished(id, w.logger)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *watcher) close() {
	_ = w.fs.Close()
	<-w.done
}

// mirrorVanished handles an external removal of the mirror for id. Removals
// the manager causes itself (saves, rotation, explicit deletes) are ignored:
// in each of those cases the record is busy, has no mirror reference, or the
// file is back in place by the time the event is seen.
func (m *Manager) mirrorVanished(id string, logger *slog.Logger) {
	rec := m.reg.getByID(id)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	path := rec.current
	busy := rec.worker != nil || rec.deletePending || rec.rotating || rec.deleting
	rec.mu.Unlock()
	if busy || path == "" {
		return
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		return
	}

	rec.mu.Lock()
	if rec.worker != nil || rec.deletePending || rec.deleting || rec.current != path {
		rec.mu.Unlock()
		return
	}
	rec.current = ""
	rec.stale = true
	rec.mu.Unlock()

	logger.Info("mirror removed externally, scheduling rewrite", "source", rec.identifier, "path", path)
	m.changed.Notify()
	m.sched.kick()
}
