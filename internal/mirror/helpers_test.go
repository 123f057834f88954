package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testSource is an instrumented Source. Its mirror content is
// "<identifier>@<counter>", read at write time.
type testSource struct {
	ident   string
	counter atomic.Uint64

	fail atomic.Bool

	// gate, when set, blocks WriteMirror until closed or sent to.
	gate    chan struct{}
	started chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
	writes    atomic.Int32

	mu      sync.Mutex
	history [][]HistoryFile
}

func newTestSource(ident string) *testSource {
	return &testSource{ident: ident, started: make(chan struct{}, 64)}
}

func (s *testSource) Identifier() string    { return s.ident }
func (s *testSource) ChangeCounter() uint64 { return s.counter.Load() }
func (s *testSource) bump() uint64          { return s.counter.Add(1) }

// WriteMirror writes the counter seen when the write began, so a gated write
// keeps its content while the counter moves on.
func (s *testSource) WriteMirror(w io.Writer) error {
	counter := s.counter.Load()
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	s.writes.Add(1)
	select {
	case s.started <- struct{}{}:
	default:
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.fail.Load() {
		return errors.New("injected write failure")
	}
	_, err := fmt.Fprintf(w, "%s@%d", s.ident, counter)
	return err
}

func (s *testSource) HistoryFound(files []HistoryFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, files)
}

func (s *testSource) historyCalls() [][]HistoryFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]HistoryFile(nil), s.history...)
}

func (s *testSource) content(counter uint64) string {
	return fmt.Sprintf("%s@%d", s.ident, counter)
}

// newTestManager creates a manager on a temp root (unless cfg.Root is set)
// and terminates it at the end of the test.
func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	if cfg.PollPeriod == 0 {
		cfg.PollPeriod = time.Second
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() {
		m.Terminate()
		m.Wait()
	})
	return m
}

// waitFor blocks until cond holds or fails the test after timeout.
func waitFor(t *testing.T, m *Manager, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Re-check periodically: some conditions (files on disk) change without
	// a notification.
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				m.changed.Notify()
			}
		}
	}()

	if err := m.WaitFor(ctx, cond); err != nil {
		t.Fatalf("timed out waiting for %s", what)
	}
}

// savedAt reports whether the source's last successful save recorded counter.
func savedAt(m *Manager, ident string, counter uint64) func() bool {
	return func() bool {
		r, ok := m.Record(ident)
		return ok && !r.Saving && r.LastSaved == counter && r.CurrentMirror != ""
	}
}

// eventLog collects events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) last(kind EventKind) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Kind == kind {
			return l.events[i], true
		}
	}
	return Event{}, false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
