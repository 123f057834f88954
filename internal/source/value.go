// Package source provides ready-made mirror sources.
//
// Value wraps an arbitrary Go value behind a mutex and bumps a change
// counter on every mutation, which is all a mirror.Manager needs to decide
// when to save. The value is written through a Codec; Load reads a mirror or
// history file back.
package source

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"mirrord/internal/mirror"
)

// Value is a goroutine-safe in-memory value that can be mirrored.
type Value[T any] struct {
	ident string
	codec Codec

	mu        sync.RWMutex
	v         T
	counter   uint64
	history   []mirror.HistoryFile
	onHistory func([]mirror.HistoryFile)
}

var (
	_ mirror.Source      = (*Value[int])(nil)
	_ mirror.Snapshotter = (*Value[int])(nil)
)

// NewValue creates a Value. A nil codec selects JSON.
func NewValue[T any](identifier string, codec Codec, initial T) *Value[T] {
	if codec == nil {
		codec = JSON
	}
	return &Value[T]{ident: identifier, codec: codec, v: initial}
}

// Identifier returns the identifier the value was created with.
func (s *Value[T]) Identifier() string { return s.ident }

// Codec returns the codec mirrors are written with.
func (s *Value[T]) Codec() Codec { return s.codec }

// ChangeCounter returns the number of mutations so far.
func (s *Value[T]) ChangeCounter() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counter
}

// Get returns the current value. Reference types (maps, slices, pointers)
// are shared with the Value; mutate them through Update only.
func (s *Value[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Set replaces the value.
func (s *Value[T]) Set(v T) {
	s.mu.Lock()
	s.v = v
	s.counter++
	s.mu.Unlock()
}

// Update mutates the value in place under the write lock.
func (s *Value[T]) Update(fn func(*T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.v)
	s.counter++
}

// WriteMirror encodes the live value to w, holding the read lock for the
// duration. Prefer Snapshot for values that are slow to encode.
func (s *Value[T]) WriteMirror(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codec.Encode(w, s.v)
}

// Snapshot encodes the value now, so the save worker writes a frozen copy
// without holding the lock during file I/O.
func (s *Value[T]) Snapshot() mirror.MirrorWriter {
	var buf bytes.Buffer
	if err := s.WriteMirror(&buf); err != nil {
		return failedSnapshot{err: err}
	}
	return frozen(buf.Bytes())
}

// HistoryFound records the history listing and forwards it to the callback
// set with OnHistory.
func (s *Value[T]) HistoryFound(files []mirror.HistoryFile) {
	s.mu.Lock()
	s.history = slices.Clone(files)
	fn := s.onHistory
	s.mu.Unlock()
	if fn != nil {
		fn(files)
	}
}

// History returns the listing passed to the last HistoryFound call.
func (s *Value[T]) History() []mirror.HistoryFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// OnHistory sets a callback for HistoryFound.
func (s *Value[T]) OnHistory(fn func([]mirror.HistoryFile)) {
	s.mu.Lock()
	s.onHistory = fn
	s.mu.Unlock()
}

type frozen []byte

func (f frozen) WriteMirror(w io.Writer) error {
	_, err := w.Write(f)
	return err
}

type failedSnapshot struct{ err error }

func (f failedSnapshot) WriteMirror(io.Writer) error {
	return fmt.Errorf("snapshot: %w", f.err)
}

// Load decodes a mirror or history file written with codec.
func Load[T any](path string, codec Codec) (T, error) {
	var v T
	if codec == nil {
		codec = JSON
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return v, err
	}
	defer func() { _ = f.Close() }()
	if err := codec.Decode(bufio.NewReader(f), &v); err != nil {
		return v, fmt.Errorf("decode %s (%s): %w", path, codec.Name(), err)
	}
	return v, nil
}
