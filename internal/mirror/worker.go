package mirror

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// saveWorker is a one-shot save of a single source. At most one is attached
// to a record at a time; only the worker itself detaches.
type saveWorker struct {
	started time.Time
}

// sweep is the scheduler pass: start a save for every idle, dirty source.
// It works on a registry snapshot and performs no I/O itself.
func (m *Manager) sweep(running func() bool) {
	recs := m.reg.all()
	for _, rec := range recs {
		if !running() {
			return
		}
		m.maybeSave(rec)
	}
}

// maybeSave attaches and launches a worker if rec is idle and dirty.
func (m *Manager) maybeSave(rec *record) {
	counter := rec.src.ChangeCounter()

	rec.mu.Lock()
	if rec.worker != nil || rec.rotating || rec.deleting || (!rec.stale && counter == rec.lastSaved) {
		rec.mu.Unlock()
		return
	}
	w := &saveWorker{started: m.cfg.Now()}
	rec.worker = w
	rec.mu.Unlock()

	if !m.workers.TryGo(func() error {
		m.save(rec, w)
		return nil
	}) {
		// No free slot. Detach so the next sweep retries.
		rec.mu.Lock()
		if rec.worker == w {
			rec.worker = nil
		}
		rec.mu.Unlock()
		m.logger.Debug("save deferred, worker limit reached", "source", rec.identifier)
	}
}

// save persists one source: write to a temp file, replace the mirror, then
// record the counter captured before writing. Failures fire an Error event
// and leave the source dirty.
func (m *Manager) save(rec *record, w *saveWorker) {
	defer m.finishWorker(rec, w)

	counter := rec.src.ChangeCounter()
	var out MirrorWriter = rec.src
	if sn, ok := rec.src.(Snapshotter); ok {
		if frozen := sn.Snapshot(); frozen != nil {
			out = frozen
		}
	}

	m.fire(Event{Kind: EventSaveStarted, Record: rec.snapshot()})

	target := m.dir.MirrorPath(rec.id)
	temp := m.dir.TempPath(rec.id)

	rec.mu.Lock()
	pending := rec.needsRotation
	rec.mu.Unlock()
	if pending {
		if err := m.rotate(rec); err != nil {
			m.saveFailed(rec, target, "rotate previous mirror", err)
			return
		}
		rec.mu.Lock()
		rec.needsRotation = false
		rec.mu.Unlock()
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		m.saveFailed(rec, target, "create mirror directory", err)
		return
	}
	if err := m.writeTemp(temp, out); err != nil {
		m.saveFailed(rec, target, "write temp mirror", err)
		return
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.saveFailed(rec, target, "remove previous mirror", err)
		return
	}
	if err := os.Rename(temp, target); err != nil {
		m.saveFailed(rec, target, "replace mirror", err)
		return
	}

	now := m.cfg.Now()
	rec.mu.Lock()
	rec.lastSaved = counter
	rec.current = target
	rec.stale = false
	rec.lastSaveTime = now
	rec.lastErr = ""
	rec.saves++
	rec.mu.Unlock()

	m.logger.Debug("mirror saved",
		"source", rec.identifier,
		"counter", counter,
		"duration", now.Sub(w.started))
	m.fire(Event{Kind: EventSaveTerminated, Record: rec.snapshot()})
}

// writeTemp runs one complete serialization into path. A panic in the
// source's writer is converted into an error.
func (m *Manager) writeTemp(path string, out MirrorWriter) (err error) {
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, m.cfg.FileMode)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source writer panicked: %v", r)
		}
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	if err := out.WriteMirror(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// saveFailed records and reports a failed step. The last-saved counter is
// left alone so the next sweep retries.
func (m *Manager) saveFailed(rec *record, target, step string, err error) {
	msg := fmt.Sprintf("save %s: %s", rec.identifier, step)

	// The old mirror may already be gone (failed rename after delete).
	_, statErr := os.Stat(target)
	gone := errors.Is(statErr, fs.ErrNotExist)

	rec.mu.Lock()
	rec.lastErr = fmt.Sprintf("%s: %v", step, err)
	if gone {
		rec.current = ""
	}
	rec.mu.Unlock()

	if rec.failLog.Allow() {
		m.logger.Warn("mirror save failed", "source", rec.identifier, "step", step, "path", target, "error", err)
	} else {
		m.logger.Debug("mirror save failed", "source", rec.identifier, "step", step, "error", err)
	}
	m.fire(Event{Kind: EventError, Record: rec.snapshot(), Message: msg, Err: err})
}

// finishWorker honors deletion requests that arrived during the save, then
// detaches the worker. The check and the detach happen under one lock so a
// request can't slip in between.
func (m *Manager) finishWorker(rec *record, w *saveWorker) {
	for {
		rec.mu.Lock()
		if !rec.deletePending {
			if rec.worker == w {
				rec.worker = nil
			}
			rec.mu.Unlock()
			m.changed.Notify()
			return
		}
		rec.mu.Unlock()
		m.deletePendingMirror(rec)
	}
}

// deletePendingMirror removes the mirror on behalf of a deferred
// RemoveCurrentMirror request.
func (m *Manager) deletePendingMirror(rec *record) {
	target := m.dir.MirrorPath(rec.id)
	err := os.Remove(target)
	if errors.Is(err, fs.ErrNotExist) {
		err = nil
	}

	rec.mu.Lock()
	rec.deletePending = false
	if err == nil {
		rec.current = ""
	}
	rec.mu.Unlock()

	if err != nil {
		m.logger.Warn("deferred mirror delete failed", "source", rec.identifier, "path", target, "error", err)
		m.fire(Event{
			Kind:    EventError,
			Record:  rec.snapshot(),
			Message: fmt.Sprintf("delete mirror %s", rec.identifier),
			Err:     err,
		})
		return
	}
	m.logger.Info("mirror deleted", "source", rec.identifier, "deferred", true)
}
