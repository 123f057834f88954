package mirror

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"mirrord/internal/layout"
	"mirrord/internal/logging"
)

// RootEntry describes everything found on disk for one ID.
type RootEntry struct {
	ID string

	// Mirror is the current mirror path, "" if there is none.
	Mirror        string
	MirrorModTime time.Time
	MirrorSize    int64

	History int
	// Orphaned temp file from an interrupted save.
	Temp bool
}

// Scan lists the IDs present under a root without taking ownership of it.
// Identifiers are not stored on disk; map them with layout.Fingerprint.
func Scan(d layout.Dir) ([]RootEntry, error) {
	entries, err := os.ReadDir(d.Root())
	if err != nil {
		return nil, fmt.Errorf("read mirror root: %w", err)
	}

	byID := make(map[string]*RootEntry)
	entry := func(id string) *RootEntry {
		e, ok := byID[id]
		if !ok {
			e = &RootEntry{ID: id}
			byID[id] = e
		}
		return e
	}

	for _, de := range entries {
		name := de.Name()
		switch {
		case de.IsDir() && layout.IsHistoryDirName(name):
			files, err := ListHistory(d, name)
			if err != nil {
				return nil, err
			}
			if len(files) > 0 {
				entry(name).History = len(files)
			}
		case de.Type().IsRegular():
			if id, ok := d.ParseMirrorName(name); ok {
				info, err := de.Info()
				if err != nil {
					continue
				}
				e := entry(id)
				e.Mirror = d.MirrorPath(id)
				e.MirrorModTime = info.ModTime()
				e.MirrorSize = info.Size()
				continue
			}
			if id, ok := d.ParseTempName(name); ok {
				entry(id).Temp = true
			}
		}
	}

	out := make([]RootEntry, 0, len(byID))
	for _, e := range byID {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b RootEntry) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// PurgeHistory deletes the history of identifier under a root that no
// manager currently owns. It returns ErrRootLocked while one does.
func PurgeHistory(d layout.Dir, identifier string, logger *slog.Logger) (bool, error) {
	lock, err := lockRoot(d.LockPath(), DefaultFileMode)
	if err != nil {
		return false, err
	}
	defer func() { _ = lock.Close() }()

	id := layout.Fingerprint(identifier)
	logger = logging.Default(logger).With("component", "mirror", "source", identifier)
	if _, err := os.Stat(d.HistoryDir(id)); errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	return purgeHistory(d, id, logger)
}
