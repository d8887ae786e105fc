// Package registry holds the in-memory source of truth for election
// state: a map of election id to a live Election aggregate, each
// protected by its own entry lock. It mirrors the Store and is rebuilt
// from it on every process start.
//
// The concurrency shape is adapted from the teacher's
// sequencer.Sequencer, which tracks one map entry per in-flight
// process under a single RWMutex and never holds that lock across I/O;
// here every entry additionally carries its own mutex so that two
// different elections never contend with each other.
package registry

import (
	"errors"
	"sync"

	"github.com/criptocracia/ec-core/types"
)

// ErrNotFound is returned when an election id has no entry.
var ErrNotFound = errors.New("registry: election not found")

// ErrAlreadyExists is returned by Insert when the id is already taken.
var ErrAlreadyExists = errors.New("registry: election already exists")

type entry struct {
	mu       sync.Mutex
	election *types.Election
}

// Registry is the concurrency-safe map of election id -> Election.
type Registry struct {
	mapMu    sync.RWMutex
	entries  map[string]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Insert adds a brand-new election. Fails with ErrAlreadyExists if the
// id is already present.
func (r *Registry) Insert(e *types.Election) error {
	r.mapMu.Lock()
	defer r.mapMu.Unlock()
	if _, ok := r.entries[e.ID]; ok {
		return ErrAlreadyExists
	}
	r.entries[e.ID] = &entry{election: e}
	return nil
}

// SnapshotIDs returns the current set of election ids. Safe to iterate
// without holding any entry lock; by the time the caller visits an id
// it may have been mutated or (never) removed.
func (r *Registry) SnapshotIDs() []string {
	r.mapMu.RLock()
	defer r.mapMu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// lookup returns the entry for id under the map lock only; it never
// holds the map lock while f below runs.
func (r *Registry) lookup(id string) (*entry, bool) {
	r.mapMu.RLock()
	defer r.mapMu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// WithElection acquires the entry lock for id, applies f to the live
// Election, and releases it. f must be short and must never perform
// bus or network I/O — only Store calls and in-memory mutation.
//
// If f returns an error, any in-memory mutation f made is expected to
// be self-contained (callers mutate a clone or roll back manually);
// WithElection itself does not snapshot/restore, since election
// mutations here are simple field assignments performed only after the
// corresponding Store write has already succeeded.
func (r *Registry) WithElection(id string, f func(*types.Election) error) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return f(e.election)
}

// Snapshot returns a deep copy of the election for read-only use
// outside any lock (e.g. serializing an RPC response).
func (r *Registry) Snapshot(id string) (*types.Election, error) {
	var out *types.Election
	err := r.WithElection(id, func(e *types.Election) error {
		out = e.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Len reports how many elections are registered.
func (r *Registry) Len() int {
	r.mapMu.RLock()
	defer r.mapMu.RUnlock()
	return len(r.entries)
}
