// Package logging provides the slog conventions shared by mirrord components.
//
// Loggers are injected, never global:
//   - Every component takes a *slog.Logger in its Config
//   - A nil logger means "discard" (see Default)
//   - Components scope once at construction with .With("component", name)
//
// Only main() picks the handler, format and levels. Per-component levels are
// adjustable at runtime through ComponentFilterHandler.
//
// Log at lifecycle boundaries (registration, rotation, save outcome, control
// changes). The polling sweep itself stays silent above Debug.
package logging

import (
	"context"
	"log/slog"
)

// discardHandler drops every record.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns the provided logger if non-nil, otherwise a discard logger:
//
//	func New(cfg Config) *Manager {
//	    logger := logging.Default(cfg.Logger).With("component", "mirror")
//	    ...
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}
