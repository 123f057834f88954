// Package layout maps source identifiers to their on-disk mirror locations.
//
// Everything here is a pure function of the root directory, the file name
// prefix/suffix and the identifier. Nothing touches the filesystem except
// EnsureExists.
//
// Layout:
//
//	<root>/
//	  .lock                            (held by the live manager)
//	  <prefix><id><suffix>             (current mirror)
//	  <prefix><id><suffix>.tmp         (in-flight save)
//	  <id>/
//	    <prefix><uuid-v7><suffix>      (history mirrors)
package layout

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Defaults for mirror file names.
const (
	DefaultPrefix = "mir-"
	DefaultSuffix = ".bak"
)

// IDLength is the length of a fingerprint ID in hex characters.
const IDLength = 32

const (
	lockFileName = ".lock"
	tempSuffix   = ".tmp"
)

var (
	ErrInvalidPrefix = errors.New("invalid mirror prefix")
	ErrInvalidSuffix = errors.New("invalid mirror suffix")
)

// Fingerprint derives the fixed-length ID for an identifier.
// The same identifier always yields the same ID, across processes.
func Fingerprint(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:IDLength/2])
}

// ValidatePrefix rejects prefixes that would escape the root directory.
func ValidatePrefix(prefix string) error {
	if strings.ContainsAny(prefix, `/\`) || prefix == "." || prefix == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return nil
}

// ValidateSuffix requires a leading dot and at least one more character.
func ValidateSuffix(suffix string) error {
	if len(suffix) < 2 || suffix[0] != '.' || strings.ContainsAny(suffix, `/\`) {
		return fmt.Errorf("%w: %q (must start with '.' and have length >= 2)", ErrInvalidSuffix, suffix)
	}
	return nil
}

// Dir is a mirror root with its naming convention.
type Dir struct {
	root   string
	prefix string
	suffix string
}

// New creates a Dir. Empty prefix or suffix select the defaults.
func New(root, prefix, suffix string) (Dir, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if suffix == "" {
		suffix = DefaultSuffix
	}
	if err := ValidatePrefix(prefix); err != nil {
		return Dir{}, err
	}
	if err := ValidateSuffix(suffix); err != nil {
		return Dir{}, err
	}
	return Dir{root: filepath.Clean(root), prefix: prefix, suffix: suffix}, nil
}

// DefaultRoot returns the platform-appropriate default mirror root:
//   - Linux:   ~/.local/share/mirrord (or $XDG_DATA_HOME/mirrord)
//   - macOS:   ~/Library/Application Support/mirrord
//   - Windows: %APPDATA%/mirrord
func DefaultRoot() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "mirrord"), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("determine data directory: %w", err)
	}
	if filepath.Base(base) == ".config" {
		base = filepath.Join(filepath.Dir(base), ".local", "share")
	}
	return filepath.Join(base, "mirrord"), nil
}

// Root returns the mirror root directory.
func (d Dir) Root() string { return d.root }

// Prefix returns the mirror file name prefix.
func (d Dir) Prefix() string { return d.prefix }

// Suffix returns the mirror file name suffix.
func (d Dir) Suffix() string { return d.suffix }

// MirrorPath returns the path of the current mirror for an ID.
func (d Dir) MirrorPath(id string) string {
	return filepath.Join(d.root, d.prefix+id+d.suffix)
}

// TempPath returns the path a save writes to before replacing the mirror.
func (d Dir) TempPath(id string) string {
	return d.MirrorPath(id) + tempSuffix
}

// HistoryDir returns the directory holding rotated mirrors for an ID.
func (d Dir) HistoryDir(id string) string {
	return filepath.Join(d.root, id)
}

// NewHistoryPath returns a fresh, collision-free history file path for an ID.
// UUIDv7 names carry random bits and sort by creation time.
func (d Dir) NewHistoryPath(id string) string {
	return filepath.Join(d.HistoryDir(id), d.prefix+uuid.Must(uuid.NewV7()).String()+d.suffix)
}

// LockPath returns the path of the root lock file.
func (d Dir) LockPath() string {
	return filepath.Join(d.root, lockFileName)
}

// IsMirrorName reports whether a base file name follows the prefix/suffix
// convention. Temp files do not match.
func (d Dir) IsMirrorName(name string) bool {
	return len(name) > len(d.prefix)+len(d.suffix) &&
		strings.HasPrefix(name, d.prefix) &&
		strings.HasSuffix(name, d.suffix)
}

// ParseMirrorName extracts the ID from a current mirror file name.
func (d Dir) ParseMirrorName(name string) (string, bool) {
	if !d.IsMirrorName(name) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, d.prefix), d.suffix)
	if !isFingerprint(id) {
		return "", false
	}
	return id, true
}

// ParseTempName extracts the ID from an in-flight save's temp file name.
func (d Dir) ParseTempName(name string) (string, bool) {
	base, ok := strings.CutSuffix(name, tempSuffix)
	if !ok {
		return "", false
	}
	return d.ParseMirrorName(base)
}

// IsHistoryDirName reports whether a directory name under the root can hold
// history for some ID.
func IsHistoryDirName(name string) bool {
	return isFingerprint(name)
}

// EnsureExists creates the root directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create mirror root %s: %w", d.root, err)
	}
	return nil
}

func isFingerprint(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
