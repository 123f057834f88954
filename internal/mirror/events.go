package mirror

import (
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"
)

// EventKind identifies the lifecycle step an Event reports.
type EventKind int

const (
	EventListChanged EventKind = iota
	EventSaveStarted
	EventSaveTerminated
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventListChanged:
		return "list-changed"
	case EventSaveStarted:
		return "save-started"
	case EventSaveTerminated:
		return "save-terminated"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is an immutable notification handed to listeners.
type Event struct {
	Kind EventKind

	// Record is a copy of the source's bookkeeping at firing time. It is nil
	// only for the ListChanged event fired by RemoveAllSources.
	Record *RecordSnapshot

	// Added is set for ListChanged when a source was registered.
	Added bool

	// Message and Err describe an EventError.
	Message string
	Err     error

	Time time.Time
}

// Listener receives events synchronously on the goroutine that fired them:
// the caller of AddSource/RemoveSource for ListChanged, a save worker for
// the others. Listeners must return quickly.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener. Function values are not
// comparable, so register them with Manager.AddListenerFunc.
type ListenerFunc func(Event)

// OnEvent calls f(e).
func (f ListenerFunc) OnEvent(e Event) { f(e) }

// funcListener gives a function listener pointer identity.
type funcListener struct {
	fn func(Event)
}

func (l *funcListener) OnEvent(e Event) { l.fn(e) }

// dispatcher is an ordered, deduplicating set of listeners.
type dispatcher struct {
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []Listener
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{logger: logger}
}

// add appends l unless an equal listener is already registered. Listeners
// whose dynamic type is not comparable are always appended.
func (d *dispatcher) add(l Listener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.indexOf(l) >= 0 {
		return false
	}
	d.listeners = append(d.listeners, l)
	return true
}

// remove drops l. Returns false if it was not registered.
func (d *dispatcher) remove(l Listener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.indexOf(l)
	if i < 0 {
		return false
	}
	d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
	return true
}

// indexOf finds l. Caller must hold d.mu.
func (d *dispatcher) indexOf(l Listener) int {
	if !reflect.TypeOf(l).Comparable() {
		return -1
	}
	for i, existing := range d.listeners {
		if reflect.TypeOf(existing).Comparable() && existing == l {
			return i
		}
	}
	return -1
}

func (d *dispatcher) len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}

// dispatch delivers e to every listener in registration order. A panicking
// listener is logged and skipped; the rest still run.
func (d *dispatcher) dispatch(e Event) {
	d.mu.RLock()
	listeners := slices.Clone(d.listeners)
	d.mu.RUnlock()

	for _, l := range listeners {
		d.deliver(l, e)
	}
}

func (d *dispatcher) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event listener panicked", "event", e.Kind.String(), "panic", r)
		}
	}()
	l.OnEvent(e)
}
