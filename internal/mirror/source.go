package mirror

import (
	"io"
	"time"
)

// MirrorWriter serializes one complete snapshot to w.
type MirrorWriter interface {
	WriteMirror(w io.Writer) error
}

// Source is an application-owned value that the manager keeps mirrored.
//
// Identifier must be non-empty and stable across process restarts: it
// determines the mirror file name. ChangeCounter must be cheap, must not
// block, and must never decrease; the manager saves whenever it differs from
// the counter recorded at the last successful save.
//
// WriteMirror is called from a save worker goroutine, never concurrently
// for the same source. HistoryFound is called once from AddSource when
// history files from earlier runs exist, newest first.
type Source interface {
	MirrorWriter
	Identifier() string
	ChangeCounter() uint64
	HistoryFound(files []HistoryFile)
}

// Snapshotter is implemented by sources that can hand out a frozen copy of
// themselves. The save worker writes the copy instead of the live source, so
// the source can keep changing while the write is in progress. A nil result
// means "write the live source".
type Snapshotter interface {
	Snapshot() MirrorWriter
}

// HistoryFile describes one rotated mirror.
type HistoryFile struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}
