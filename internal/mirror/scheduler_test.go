package mirror

import (
	"sync/atomic"
	"testing"
	"time"

	"mirrord/internal/logging"
)

func newCountingScheduler(t *testing.T) (*scheduler, *atomic.Int32) {
	t.Helper()
	var sweeps atomic.Int32
	s, err := newScheduler(time.Hour, func(func() bool) { sweeps.Add(1) }, logging.Discard())
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}
	t.Cleanup(func() { s.terminate() })
	return s, &sweeps
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSchedulerKick(t *testing.T) {
	s, sweeps := newCountingScheduler(t)
	if !s.lastRun().IsZero() {
		t.Error("last run set before any sweep")
	}
	s.kick()
	eventually(t, "kicked sweep", func() bool { return sweeps.Load() >= 1 })
	if s.lastRun().IsZero() {
		t.Error("last run not recorded")
	}
}

func TestSchedulerStateTransitions(t *testing.T) {
	s, sweeps := newCountingScheduler(t)

	if s.current() != StateRunning {
		t.Fatalf("initial state: %v", s.current())
	}
	if s.resume() {
		t.Error("resume while running should be a no-op")
	}
	if !s.pause() {
		t.Fatal("pause from running")
	}
	if s.pause() {
		t.Error("second pause should be a no-op")
	}

	s.kick()
	time.Sleep(200 * time.Millisecond)
	if n := sweeps.Load(); n != 0 {
		t.Fatalf("sweeps while paused: %d", n)
	}

	if !s.resume() {
		t.Fatal("resume from paused")
	}
	eventually(t, "sweep after resume", func() bool { return sweeps.Load() >= 1 })

	if !s.terminate() {
		t.Fatal("terminate")
	}
	if s.terminate() {
		t.Error("second terminate should report false")
	}
	if s.pause() || s.resume() {
		t.Error("terminated scheduler left its state")
	}
	if s.current() != StateTerminated {
		t.Errorf("final state: %v", s.current())
	}
}

func TestSchedulerSweepSeesStateChange(t *testing.T) {
	var observed atomic.Bool
	release := make(chan struct{})
	s, err := newScheduler(time.Hour, func(running func() bool) {
		<-release
		observed.Store(!running())
	}, logging.Discard())
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}
	defer s.terminate()

	s.kick()
	time.Sleep(100 * time.Millisecond)
	s.pause()
	close(release)
	eventually(t, "sweep to observe pause", observed.Load)
}

func TestSchedulerKickDuringSweepIsQueued(t *testing.T) {
	var sweeps atomic.Int32
	release := make(chan struct{})
	s, err := newScheduler(time.Hour, func(func() bool) {
		if sweeps.Add(1) == 1 {
			<-release
		}
	}, logging.Discard())
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}
	defer s.terminate()

	s.kick()
	eventually(t, "first sweep", func() bool { return sweeps.Load() == 1 })
	s.kick()
	time.Sleep(100 * time.Millisecond)
	close(release)

	eventually(t, "kick queued behind the running sweep", func() bool { return sweeps.Load() >= 2 })
}

func TestSchedulerSetPeriod(t *testing.T) {
	s, sweeps := newCountingScheduler(t)

	if err := s.setPeriod(10 * time.Millisecond); err == nil {
		t.Error("sub-second period accepted")
	}
	if err := s.setPeriod(time.Second); err != nil {
		t.Fatalf("setPeriod: %v", err)
	}
	if s.getPeriod() != time.Second {
		t.Errorf("period: got %v", s.getPeriod())
	}
	eventually(t, "tick at new period", func() bool { return sweeps.Load() >= 1 })

	// Kicks still reach the replaced job.
	before := sweeps.Load()
	s.kick()
	eventually(t, "kick after update", func() bool { return sweeps.Load() > before })

	s.terminate()
	if err := s.setPeriod(time.Second); err != ErrTerminated {
		t.Errorf("setPeriod after terminate: got %v", err)
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{
		StateRunning:    "running",
		StatePaused:     "paused",
		StateTerminated: "terminated",
		State(9):        "unknown",
	} {
		if st.String() != want {
			t.Errorf("%d: got %q, want %q", st, st.String(), want)
		}
	}
}
