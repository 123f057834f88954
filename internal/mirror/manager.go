// Package mirror keeps an on-disk copy of registered in-memory sources.
//
// A Manager polls every registered Source on a fixed period. When a source's
// change counter differs from the counter recorded at its last save, a
// one-shot save worker writes the source to <mirror>.tmp and renames it over
// the current mirror. At most one worker runs per source; a failed save
// leaves the source dirty so the next poll retries it.
//
// Mirrors from earlier runs are never overwritten: when a source is
// registered, a mirror already on disk for its identifier is moved into the
// source's history directory first (see package layout for the file names).
//
// Concurrency model:
//   - The registry map is behind a RWMutex that is never held during I/O or
//     while listeners run.
//   - Each record has a small mutex guarding its fields. Writers are the
//     sweep (attaching a worker), that record's own worker, and explicit
//     mirror deletion.
//   - Listeners run synchronously on the goroutine that fired the event.
//   - Pause stops scheduling only; Terminate does not wait for running saves
//     (use Wait for that).
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"mirrord/internal/layout"
	"mirrord/internal/logging"
	"mirrord/internal/notify"
)

// Manager mirrors a set of sources into one root directory.
type Manager struct {
	cfg    Config
	dir    layout.Dir
	logger *slog.Logger

	reg     *registry
	events  *dispatcher
	changed *notify.Signal
	sched   *scheduler
	workers errgroup.Group
	watch   *watcher

	priority atomic.Int32
	lockFile *os.File
}

// New validates cfg, creates the root directory, takes the root lock and
// starts polling.
func New(cfg Config) (*Manager, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	dir, err := layout.New(cfg.Root, cfg.Prefix, cfg.Suffix)
	if err != nil {
		return nil, err
	}
	if err := dir.EnsureExists(); err != nil {
		return nil, err
	}
	lockFile, err := lockRoot(dir.LockPath(), cfg.FileMode)
	if err != nil {
		return nil, err
	}

	logger := logging.Default(cfg.Logger).With("component", "mirror")
	m := &Manager{
		cfg:      cfg,
		dir:      dir,
		logger:   logger,
		reg:      newRegistry(),
		events:   newDispatcher(logger),
		changed:  notify.NewSignal(),
		lockFile: lockFile,
	}
	m.priority.Store(int32(cfg.Priority)) //nolint:gosec // G115: validated to [1, 10]
	if cfg.MaxConcurrentSaves > 0 {
		m.workers.SetLimit(cfg.MaxConcurrentSaves)
	}

	m.sched, err = newScheduler(cfg.PollPeriod, m.sweep, logger)
	if err != nil {
		_ = lockFile.Close()
		return nil, err
	}

	if cfg.WatchExternal {
		m.watch, err = newWatcher(m)
		if err != nil {
			m.sched.terminate()
			_ = lockFile.Close()
			return nil, fmt.Errorf("watch mirror root: %w", err)
		}
	}

	logger.Info("mirror manager started",
		"root", dir.Root(),
		"period", cfg.PollPeriod,
		"priority", cfg.Priority,
		"prefix", dir.Prefix(),
		"suffix", dir.Suffix(),
		"history_limit", cfg.HistoryLimit,
		"max_concurrent_saves", cfg.MaxConcurrentSaves,
		"watch", cfg.WatchExternal)
	return m, nil
}

// Layout returns the naming scheme used for this manager's files.
func (m *Manager) Layout() layout.Dir { return m.dir }

// AddSource registers src. It returns false (and no error) if a source with
// the same identifier is already registered.
//
// A mirror left in the root by an earlier run is rotated into the source's
// history before the source becomes eligible for saving. If history exists
// afterwards, src.HistoryFound is called with it, newest first. Rotation I/O
// failures are reported as Error events; registration still succeeds.
func (m *Manager) AddSource(src Source) (bool, error) {
	if src == nil {
		return false, ErrNilSource
	}
	if m.sched.current() == StateTerminated {
		return false, ErrTerminated
	}
	identifier := src.Identifier()
	if identifier == "" {
		return false, ErrEmptyIdentifier
	}

	rec := newRecord(src, identifier, layout.Fingerprint(identifier))
	added, err := m.reg.insert(rec)
	if err != nil || !added {
		return false, err
	}
	m.logger.Info("source registered", "source", identifier, "id", rec.id)
	m.fire(Event{Kind: EventListChanged, Record: rec.snapshot(), Added: true})

	retry := false
	if err := m.rotate(rec); err != nil {
		// Never let a save overwrite a mirror that did not make it into
		// history; the worker retries the rotation before writing.
		_, statErr := os.Stat(m.dir.MirrorPath(rec.id))
		retry = !errors.Is(statErr, fs.ErrNotExist)
		m.logger.Warn("history rotation failed", "source", identifier, "retry", retry, "error", err)
		m.fire(Event{
			Kind:    EventError,
			Record:  rec.snapshot(),
			Message: fmt.Sprintf("rotate %s", identifier),
			Err:     err,
		})
	}
	rec.mu.Lock()
	rec.rotating = false
	rec.needsRotation = retry
	rec.mu.Unlock()

	files, err := m.listHistory(rec.id)
	if err != nil {
		m.logger.Warn("list history failed", "source", identifier, "error", err)
	} else if len(files) > 0 {
		src.HistoryFound(files)
	}
	return true, nil
}

// RemoveSource unregisters a source. Files on disk are left alone, and a save
// already running for the source completes. Unknown identifiers are ignored.
func (m *Manager) RemoveSource(identifier string) {
	rec := m.reg.remove(identifier)
	if rec == nil {
		return
	}
	m.logger.Info("source removed", "source", identifier)
	m.fire(Event{Kind: EventListChanged, Record: rec.snapshot(), Added: false})
}

// RemoveAllSources unregisters every source and fires a single ListChanged
// event with no record.
func (m *Manager) RemoveAllSources() {
	n := m.reg.clear()
	m.logger.Info("all sources removed", "count", n)
	m.fire(Event{Kind: EventListChanged, Added: false})
}

// CurrentMirror returns the path of the source's current mirror. While a save
// is in flight the answer may lag behind; use SaveTerminated events for an
// exact view.
func (m *Manager) CurrentMirror(identifier string) (string, bool) {
	rec := m.reg.get(identifier)
	if rec == nil {
		return "", false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.current, rec.current != ""
}

// HistoryMirrors lists the source's history files, newest first.
func (m *Manager) HistoryMirrors(identifier string) ([]HistoryFile, error) {
	rec := m.reg.get(identifier)
	if rec == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, identifier)
	}
	return m.listHistory(rec.id)
}

// RemoveHistoryMirrors deletes the source's history files and, once empty,
// its history directory. It reports whether every file was deleted.
func (m *Manager) RemoveHistoryMirrors(identifier string) (bool, error) {
	rec := m.reg.get(identifier)
	if rec == nil {
		return false, fmt.Errorf("%w: %q", ErrUnknownSource, identifier)
	}
	return m.removeHistory(rec)
}

// RemoveCurrentMirror deletes the source's current mirror. If a save is in
// progress the deletion is deferred until that save finishes. Otherwise the
// file is removed now and the source's current counter is recorded as saved,
// so an unchanged source is not written again right away.
func (m *Manager) RemoveCurrentMirror(identifier string) error {
	rec := m.reg.get(identifier)
	if rec == nil {
		return fmt.Errorf("%w: %q", ErrUnknownSource, identifier)
	}

	rec.mu.Lock()
	if rec.worker != nil {
		rec.deletePending = true
		rec.mu.Unlock()
		m.logger.Debug("mirror delete deferred until save completes", "source", identifier)
		return nil
	}
	path := rec.current
	if path == "" {
		rec.mu.Unlock()
		return nil
	}
	// Clear first so the external-delete watcher ignores our own removal,
	// and hold off the sweep until the file is gone.
	rec.current = ""
	rec.deleting = true
	rec.mu.Unlock()

	counter := rec.src.ChangeCounter()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		rec.mu.Lock()
		rec.deleting = false
		if rec.current == "" {
			rec.current = path
		}
		rec.mu.Unlock()
		m.logger.Warn("mirror delete failed", "source", identifier, "path", path, "error", err)
		m.fire(Event{
			Kind:    EventError,
			Record:  rec.snapshot(),
			Message: fmt.Sprintf("delete mirror %s", identifier),
			Err:     err,
		})
		return fmt.Errorf("delete mirror %s: %w", identifier, err)
	}

	rec.mu.Lock()
	rec.deleting = false
	rec.lastSaved = counter
	rec.stale = false
	rec.mu.Unlock()
	m.logger.Info("mirror deleted", "source", identifier)
	m.changed.Notify()
	return nil
}

// Records returns a snapshot of every registered source, sorted by identifier.
func (m *Manager) Records() []RecordSnapshot {
	recs := m.reg.all()
	out := make([]RecordSnapshot, 0, len(recs))
	for _, rec := range recs {
		out = append(out, *rec.snapshot())
	}
	return out
}

// Record returns a snapshot of one source.
func (m *Manager) Record(identifier string) (RecordSnapshot, bool) {
	rec := m.reg.get(identifier)
	if rec == nil {
		return RecordSnapshot{}, false
	}
	return *rec.snapshot(), true
}

// Kick runs a dirty check now instead of waiting for the next period.
func (m *Manager) Kick() { m.sched.kick() }

// Pause stops new saves from being scheduled. Saves already running finish.
func (m *Manager) Pause() {
	if m.sched.pause() {
		m.logger.Info("mirroring paused")
		m.changed.Notify()
	}
}

// Resume undoes Pause and checks for dirty sources immediately.
func (m *Manager) Resume() {
	if m.sched.resume() {
		m.logger.Info("mirroring resumed")
		m.changed.Notify()
	}
}

// Terminate stops polling for good and releases the root. It is idempotent
// and does not wait for running saves; call Wait afterwards for that.
func (m *Manager) Terminate() {
	if !m.sched.terminate() {
		return
	}
	if m.watch != nil {
		m.watch.close()
	}
	if err := m.lockFile.Close(); err != nil {
		m.logger.Warn("release root lock", "error", err)
	}
	m.logger.Info("mirror manager terminated", "sources", m.reg.len())
	m.changed.Notify()
}

// Wait blocks until every running save has finished. Only meaningful once
// no new saves can start, i.e. after Pause or Terminate.
func (m *Manager) Wait() {
	_ = m.workers.Wait()
}

// State returns the scheduler state.
func (m *Manager) State() State { return m.sched.current() }

// SetPollPeriod changes the time between dirty checks.
func (m *Manager) SetPollPeriod(d time.Duration) error {
	if err := m.sched.setPeriod(d); err != nil {
		return err
	}
	m.logger.Info("poll period changed", "period", d)
	return nil
}

// PollPeriod returns the current time between dirty checks.
func (m *Manager) PollPeriod() time.Duration { return m.sched.getPeriod() }

// SetPriority changes the advisory priority hint.
func (m *Manager) SetPriority(p int) error {
	if err := validatePriority(p); err != nil {
		return err
	}
	m.priority.Store(int32(p)) //nolint:gosec // G115: validated to [1, 10]
	m.logger.Info("priority changed", "priority", p)
	return nil
}

// Priority returns the advisory priority hint.
func (m *Manager) Priority() int { return int(m.priority.Load()) }

// LastSweep reports when the dirty check last ran, zero if never.
func (m *Manager) LastSweep() time.Time { return m.sched.lastRun() }

// AddListener registers l. Returns false if an equal listener is already
// registered. l should be comparable (typically a pointer); use
// AddListenerFunc for plain functions.
func (m *Manager) AddListener(l Listener) bool {
	if l == nil {
		return false
	}
	return m.events.add(l)
}

// RemoveListener unregisters l. Returns false if it was not registered.
func (m *Manager) RemoveListener(l Listener) bool {
	if l == nil {
		return false
	}
	return m.events.remove(l)
}

// AddListenerFunc registers fn and returns a function that unregisters it.
func (m *Manager) AddListenerFunc(fn func(Event)) (remove func()) {
	l := &funcListener{fn: fn}
	m.events.add(l)
	return func() { m.events.remove(l) }
}

// Changed returns a channel that is closed on the next state change: any
// event, a finished save worker, an explicit delete or a control change.
// Re-call Changed after each wakeup.
func (m *Manager) Changed() <-chan struct{} { return m.changed.C() }

// WaitFor blocks until cond holds, re-evaluating it on every state change.
func (m *Manager) WaitFor(ctx context.Context, cond func() bool) error {
	return m.changed.WaitFor(ctx, cond)
}

// fire stamps e, delivers it to listeners and wakes Changed waiters.
func (m *Manager) fire(e Event) {
	e.Time = m.cfg.Now()
	m.events.dispatch(e)
	m.changed.Notify()
}
