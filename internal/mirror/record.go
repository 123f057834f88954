package mirror

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// failureLogInterval limits how often repeated save failures of one source
// are logged at Warn. Events are never limited.
const failureLogInterval = time.Minute

// record is the bookkeeping entry for one registered source.
//
// Fields under mu are written by the scheduler (attaching a worker), by the
// source's own worker (finishing a save) and by explicit mirror deletion.
// mu is only held for field access, never across I/O or foreign calls.
type record struct {
	src        Source
	identifier string
	id         string

	failLog *rate.Limiter

	mu            sync.Mutex
	lastSaved     uint64
	current       string      // current mirror path, "" if none
	worker        *saveWorker // nil when idle
	deletePending bool
	rotating      bool // first-contact rotation in progress; not schedulable
	needsRotation bool // rotation failed with the old mirror still in place
	deleting      bool // explicit mirror delete in progress; not schedulable
	stale         bool // mirror vanished externally; save regardless of counter
	lastSaveTime  time.Time
	lastErr       string
	saves         int
}

func newRecord(src Source, identifier, id string) *record {
	return &record{
		src:        src,
		identifier: identifier,
		id:         id,
		failLog:    rate.NewLimiter(rate.Every(failureLogInterval), 1),
		rotating:   true,
	}
}

// RecordSnapshot is an immutable copy of a source's bookkeeping, taken at
// the moment it was requested or the event was fired.
type RecordSnapshot struct {
	Identifier    string
	ID            string
	LastSaved     uint64
	CurrentMirror string // "" if none
	Saving        bool
	DeletePending bool
	LastSaveTime  time.Time // zero if never saved this session
	LastError     string    // most recent failure, cleared by a successful save
	Saves         int       // successful saves this session
}

// snapshot copies the record. Caller must not hold r.mu.
func (r *record) snapshot() *RecordSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &RecordSnapshot{
		Identifier:    r.identifier,
		ID:            r.id,
		LastSaved:     r.lastSaved,
		CurrentMirror: r.current,
		Saving:        r.worker != nil,
		DeletePending: r.deletePending,
		LastSaveTime:  r.lastSaveTime,
		LastError:     r.lastErr,
		Saves:         r.saves,
	}
}
