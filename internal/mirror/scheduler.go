package mirror

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// State is the scheduler's control state.
type State int32

const (
	StateRunning State = iota
	StatePaused
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const sweepJobName = "mirror-sweep"

// scheduler runs the dirty-check sweep as a gocron duration job. Singleton
// mode keeps sweeps from overlapping: a kick that lands while a sweep is
// running is queued and runs as soon as that sweep returns.
type scheduler struct {
	logger *slog.Logger
	sweep  func(running func() bool)
	state  atomic.Int32
	last   atomic.Int64 // unix nanos of the last sweep start

	mu     sync.Mutex // guards job replacement
	cron   gocron.Scheduler
	job    gocron.Job
	period time.Duration
}

func newScheduler(period time.Duration, sweep func(running func() bool), logger *slog.Logger) (*scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create sweep scheduler: %w", err)
	}
	s := &scheduler{
		logger: logger,
		sweep:  sweep,
		cron:   cron,
		period: period,
	}
	job, err := cron.NewJob(
		gocron.DurationJob(period),
		gocron.NewTask(s.run),
		s.jobOptions()...,
	)
	if err != nil {
		_ = cron.Shutdown()
		return nil, fmt.Errorf("create sweep job: %w", err)
	}
	s.job = job
	cron.Start()
	return s, nil
}

func (s *scheduler) jobOptions() []gocron.JobOption {
	return []gocron.JobOption{
		gocron.WithName(sweepJobName),
		gocron.WithSingletonMode(gocron.LimitModeWait),
	}
}

// run is the job body. Paused and terminated schedulers skip the sweep, and
// a sweep stops early when the state changes under it.
func (s *scheduler) run() {
	if !s.running() {
		return
	}
	s.last.Store(time.Now().UnixNano())
	s.sweep(s.running)
}

func (s *scheduler) running() bool {
	return s.current() == StateRunning
}

func (s *scheduler) current() State {
	return State(s.state.Load())
}

// kick requests an immediate sweep. No-op unless running.
func (s *scheduler) kick() {
	if s.current() != StateRunning {
		return
	}
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()
	if err := job.RunNow(); err != nil {
		s.logger.Debug("kick failed", "error", err)
	}
}

// pause stops new saves from being scheduled. Running saves continue.
func (s *scheduler) pause() bool {
	return s.state.CompareAndSwap(int32(StateRunning), int32(StatePaused))
}

// resume leaves the paused state and sweeps right away.
func (s *scheduler) resume() bool {
	if !s.state.CompareAndSwap(int32(StatePaused), int32(StateRunning)) {
		return false
	}
	s.kick()
	return true
}

// terminate stops the sweep job for good. It waits for a sweep already in
// progress (sweeps never block on I/O) but not for save workers.
// Returns false if already terminated.
func (s *scheduler) terminate() bool {
	if State(s.state.Swap(int32(StateTerminated))) == StateTerminated {
		return false
	}
	if err := s.cron.Shutdown(); err != nil {
		s.logger.Warn("sweep scheduler shutdown", "error", err)
	}
	return true
}

// setPeriod reschedules the sweep job with a new interval.
func (s *scheduler) setPeriod(d time.Duration) error {
	if err := validatePeriod(d); err != nil {
		return err
	}
	if s.current() == StateTerminated {
		return ErrTerminated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.cron.Update(s.job.ID(), gocron.DurationJob(d), gocron.NewTask(s.run), s.jobOptions()...)
	if err != nil {
		return fmt.Errorf("update sweep job: %w", err)
	}
	s.job = job
	s.period = d
	return nil
}

func (s *scheduler) getPeriod() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// lastRun reports when a sweep last started, zero if never.
func (s *scheduler) lastRun() time.Time {
	n := s.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
