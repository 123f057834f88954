package mirror

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// registry maps identifiers (and their fingerprint IDs) to records.
// It is safe for concurrent use; iteration works on copies so callers never
// hold the lock while doing I/O.
type registry struct {
	mu      sync.RWMutex
	byIdent map[string]*record
	byID    map[string]*record
}

func newRegistry() *registry {
	return &registry{
		byIdent: make(map[string]*record),
		byID:    make(map[string]*record),
	}
}

// insert stores rec. Returns false without error if the identifier is
// already registered.
func (r *registry) insert(rec *record) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byIdent[rec.identifier]; ok {
		return false, nil
	}
	if other, ok := r.byID[rec.id]; ok {
		return false, fmt.Errorf("%w: %q and %q share id %s",
			ErrFingerprintCollision, rec.identifier, other.identifier, rec.id)
	}
	r.byIdent[rec.identifier] = rec
	r.byID[rec.id] = rec
	return true, nil
}

// remove drops an identifier and returns the record it held, if any.
func (r *registry) remove(identifier string) *record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byIdent[identifier]
	if !ok {
		return nil
	}
	delete(r.byIdent, identifier)
	delete(r.byID, rec.id)
	return rec
}

// clear drops every mapping.
func (r *registry) clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.byIdent)
	r.byIdent = make(map[string]*record)
	r.byID = make(map[string]*record)
	return n
}

func (r *registry) get(identifier string) *record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byIdent[identifier]
}

func (r *registry) getByID(id string) *record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// all returns a point-in-time copy of the records, sorted by identifier.
func (r *registry) all() []*record {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.byIdent))
	for _, rec := range r.byIdent {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()
	slices.SortFunc(recs, func(a, b *record) int { return cmp.Compare(a.identifier, b.identifier) })
	return recs
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdent)
}
