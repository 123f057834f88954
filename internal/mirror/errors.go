package mirror

import (
	"errors"

	"mirrord/internal/layout"
)

var (
	// Configuration errors, returned by New and the setters.
	ErrMissingRoot         = errors.New("mirror root directory is required")
	ErrInvalidPeriod       = errors.New("poll period must be at least one second")
	ErrInvalidPriority     = errors.New("priority must be between 1 and 10")
	ErrInvalidPrefix       = layout.ErrInvalidPrefix
	ErrInvalidSuffix       = layout.ErrInvalidSuffix
	ErrInvalidHistoryLimit = errors.New("history limit must not be negative")
	ErrInvalidConcurrency  = errors.New("max concurrent saves must not be negative")
	ErrRootLocked          = errors.New("mirror root is locked by another manager")

	// Registration and query errors.
	ErrNilSource            = errors.New("source is nil")
	ErrEmptyIdentifier      = errors.New("source identifier is empty")
	ErrFingerprintCollision = errors.New("source fingerprint collides with a registered source")
	ErrUnknownSource        = errors.New("unknown source")
	ErrTerminated           = errors.New("mirror manager is terminated")
)
