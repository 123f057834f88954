package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"mirrord/internal/mirror"
	"mirrord/internal/source"
)

// runOptions are the run command's flags.
type runOptions struct {
	codec        string
	period       time.Duration
	priority     int
	historyLimit int
	maxSaves     int
	watch        bool
	restore      bool
	drainTimeout time.Duration
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Mirror key/value sources read from stdin",
		Long: `Reads lines of the form

  <identifier> <key>=<value>

from stdin. Each identifier becomes a source holding a string map, mirrored
under the root. An empty value deletes the key; blank lines and lines starting
with '#' are ignored. At end of input (or on interrupt) pending changes are
saved before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := resolveDir(cmd)
			if err != nil {
				return err
			}
			codec, err := source.CodecByName(opts.codec)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			m, err := mirror.New(mirror.Config{
				Root:               d.Root(),
				Prefix:             d.Prefix(),
				Suffix:             d.Suffix(),
				PollPeriod:         opts.period,
				Priority:           opts.priority,
				HistoryLimit:       opts.historyLimit,
				MaxConcurrentSaves: opts.maxSaves,
				WatchExternal:      opts.watch,
				Logger:             a.logger,
			})
			if err != nil {
				return err
			}
			return runMirror(ctx, m, cmd.InOrStdin(), codec, opts, a.logger.With("component", "cli"))
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.codec, "codec", "json", "mirror encoding: json or msgpack")
	f.DurationVar(&opts.period, "period", mirror.DefaultPollPeriod, "time between dirty checks (>= 1s)")
	f.IntVar(&opts.priority, "priority", mirror.DefaultPriority, "advisory priority hint, 1-10")
	f.IntVar(&opts.historyLimit, "history-limit", 0, "history files kept per source (0 keeps all)")
	f.IntVar(&opts.maxSaves, "max-saves", 0, "concurrent save limit (0 is unbounded)")
	f.BoolVar(&opts.watch, "watch", false, "re-create mirrors deleted by someone else")
	f.BoolVar(&opts.restore, "restore", false, "start each source from its newest history mirror")
	f.DurationVar(&opts.drainTimeout, "drain-timeout", 10*time.Second, "how long to wait for pending saves at exit")
	return cmd
}

// runMirror feeds input lines into sources registered with m until input
// ends or ctx is cancelled, then drains pending saves and shuts m down.
func runMirror(ctx context.Context, m *mirror.Manager, in io.Reader, codec source.Codec, opts runOptions, logger *slog.Logger) error {
	defer func() {
		m.Terminate()
		m.Wait()
	}()

	removeListener := m.AddListenerFunc(func(e mirror.Event) { logEvent(logger, e) })
	defer removeListener()

	sources := make(map[string]*source.Value[map[string]string])
	lines := readLines(ctx, in)

loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, draining")
			break loop
		case r, ok := <-lines:
			if !ok {
				logger.Info("end of input, draining")
				break loop
			}
			if r.err != nil {
				return fmt.Errorf("read input: %w", r.err)
			}
			c, ok, err := parseLine(r.line)
			if err != nil {
				logger.Warn("skipping input line", "line", r.num, "error", err)
				continue
			}
			if !ok {
				continue
			}
			v, err := sourceFor(m, sources, c.ident, codec, opts.restore, logger)
			if err != nil {
				logger.Warn("skipping input line", "line", r.num, "error", err)
				continue
			}
			v.Update(c.apply)
		}
	}

	return drain(m, sources, opts.drainTimeout)
}

// sourceFor returns the source for ident, registering it on first use.
func sourceFor(m *mirror.Manager, sources map[string]*source.Value[map[string]string], ident string, codec source.Codec, restore bool, logger *slog.Logger) (*source.Value[map[string]string], error) {
	if v, ok := sources[ident]; ok {
		return v, nil
	}
	v := source.NewValue(ident, codec, map[string]string{})
	v.OnHistory(func(files []mirror.HistoryFile) {
		logger.Info("history found", "source", ident, "files", len(files), "newest", files[0].Path)
	})
	if _, err := m.AddSource(v); err != nil {
		return nil, err
	}
	sources[ident] = v

	if history := v.History(); restore && len(history) > 0 {
		prev, err := source.Load[map[string]string](history[0].Path, codec)
		if err != nil {
			logger.Warn("restore from history failed", "source", ident, "path", history[0].Path, "error", err)
		} else {
			v.Set(prev)
			logger.Info("restored from history", "source", ident, "keys", len(prev))
		}
	}
	return v, nil
}

// drain kicks a final sweep and waits until every source is saved at its
// latest counter, or a save started during the drain has failed. Failures
// from before the drain don't count: that save may have been for an older
// counter.
func drain[S mirror.Source](m *mirror.Manager, sources map[string]S, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var mu sync.Mutex
	started := make(map[string]bool)
	failed := make(map[string]bool)
	remove := m.AddListenerFunc(func(e mirror.Event) {
		if e.Record == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch e.Kind {
		case mirror.EventSaveStarted:
			started[e.Record.Identifier] = true
		case mirror.EventError:
			if started[e.Record.Identifier] {
				failed[e.Record.Identifier] = true
			}
		}
	})
	defer remove()

	m.Kick()
	err := m.WaitFor(ctx, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for ident, src := range sources {
			r, ok := m.Record(ident)
			if !ok || r.Saving {
				return false
			}
			if r.LastSaved != src.ChangeCounter() && !failed[ident] {
				return false
			}
		}
		return true
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("pending saves did not finish within %s", timeout)
	}
	return err
}

type inputLine struct {
	num  int
	line string
	err  error
}

// readLines scans in on its own goroutine so an interrupt is not stuck
// behind a blocking read.
func readLines(ctx context.Context, in io.Reader) <-chan inputLine {
	out := make(chan inputLine)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(in)
		num := 0
		for sc.Scan() {
			num++
			select {
			case out <- inputLine{num: num, line: sc.Text()}:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			select {
			case out <- inputLine{num: num, err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

func logEvent(logger *slog.Logger, e mirror.Event) {
	switch e.Kind {
	case mirror.EventSaveTerminated:
		logger.Info("mirror saved",
			"source", e.Record.Identifier,
			"counter", e.Record.LastSaved,
			"path", e.Record.CurrentMirror)
	case mirror.EventError:
		// The manager already logs failures at warn, rate limited.
		logger.Debug("mirror error", "message", e.Message, "error", e.Err)
	default:
		logger.Debug("mirror event", "kind", e.Kind.String())
	}
}
