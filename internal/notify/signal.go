// Package notify provides a broadcast wakeup used to publish mirror state
// changes to any number of waiters.
package notify

import (
	"context"
	"sync"
)

// Signal wakes every current waiter at once. Notify closes the channel handed
// out by C and replaces it, so waiters re-read C after each wakeup.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewSignal creates a ready-to-use Signal.
func NewSignal() *Signal { return &Signal{ch: make(chan struct{})} }

// Notify wakes all current waiters.
func (s *Signal) Notify() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

// C returns a channel that is closed on the next Notify call.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	return ch
}

// WaitFor blocks until cond returns true, re-checking after every Notify.
// cond is evaluated once up front, so a condition that already holds returns
// immediately. Returns ctx.Err() if the context ends first.
func (s *Signal) WaitFor(ctx context.Context, cond func() bool) error {
	for {
		// Grab the channel before checking so a Notify between the check and
		// the select is not lost.
		ch := s.C()
		if cond() {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
