package mirror

import (
	"cmp"
	"log/slog"
	"os"
	"time"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultPollPeriod = 5 * time.Second
	DefaultPriority   = 5

	DefaultFileMode os.FileMode = 0o644

	MinPollPeriod = time.Second
	MinPriority   = 1
	MaxPriority   = 10
)

// Config configures a Manager.
type Config struct {
	// Root is the directory holding mirrors and history. Created if absent.
	Root string

	// PollPeriod is the time between dirty checks. Must be >= 1s.
	// Defaults to DefaultPollPeriod.
	PollPeriod time.Duration

	// Priority is an advisory scheduling hint in [1, 10]. Go does not expose
	// goroutine priorities; the value is validated, reported and logged only.
	Priority int

	// Prefix and Suffix shape mirror file names: <prefix><id><suffix>.
	// Suffix must start with '.' and be at least two characters long.
	Prefix string
	Suffix string

	// HistoryLimit caps the number of history files kept per source. The
	// oldest entries beyond the cap are deleted after each rotation.
	// Zero keeps everything.
	HistoryLimit int

	// MaxConcurrentSaves bounds the number of save workers running at once.
	// Sources that don't get a slot stay dirty and are retried on the next
	// sweep. Zero means unbounded.
	MaxConcurrentSaves int

	// WatchExternal watches the root for mirrors deleted behind the manager's
	// back and schedules them to be re-created.
	WatchExternal bool

	// FileMode for mirror files. Defaults to 0o644.
	FileMode os.FileMode

	// Now supplies event timestamps. Defaults to time.Now.
	Now func() time.Time

	// Logger for structured logging. If nil, logging is disabled.
	// The manager scopes this logger with component="mirror".
	Logger *slog.Logger
}

// withDefaults fills zero values and validates the result.
func (c Config) withDefaults() (Config, error) {
	if c.Root == "" {
		return c, ErrMissingRoot
	}
	c.PollPeriod = cmp.Or(c.PollPeriod, DefaultPollPeriod)
	c.Priority = cmp.Or(c.Priority, DefaultPriority)
	c.FileMode = cmp.Or(c.FileMode, DefaultFileMode)
	if c.Now == nil {
		c.Now = time.Now
	}

	if err := validatePeriod(c.PollPeriod); err != nil {
		return c, err
	}
	if err := validatePriority(c.Priority); err != nil {
		return c, err
	}
	if c.HistoryLimit < 0 {
		return c, ErrInvalidHistoryLimit
	}
	if c.MaxConcurrentSaves < 0 {
		return c, ErrInvalidConcurrency
	}
	return c, nil
}

func validatePeriod(d time.Duration) error {
	if d < MinPollPeriod {
		return ErrInvalidPeriod
	}
	return nil
}

func validatePriority(p int) error {
	if p < MinPriority || p > MaxPriority {
		return ErrInvalidPriority
	}
	return nil
}
