package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/ralph/internal/orchestration/prompt"
	"github.com/zjrosen/ralph/internal/orchestration/signals"
	"github.com/zjrosen/ralph/internal/sessions/domain"
)

// run is a live supervisor for one session.
type run struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// entry is one registered session. mu guards snap, run and the iteration
// carry-over fields; the supervisor owns its working copy and only touches
// the entry to publish.
type entry struct {
	mu   sync.Mutex
	snap domain.Session
	run  *run

	detector *signals.Detector
	// seen holds failure signature keys that already produced a guardrail.
	seen map[string]struct{}
	// nextVariant is the prompt framing chosen by the last signal.
	nextVariant prompt.Variant
	// lastFailure describes the previous failed attempt at lastFailureStory.
	lastFailure      string
	lastFailureStory string

	prdDirty atomic.Bool
}

func newEntry(s domain.Session, d *signals.Detector) *entry {
	return &entry{
		snap:        s,
		detector:    d,
		seen:        make(map[string]struct{}),
		nextVariant: prompt.VariantNormal,
	}
}

// snapshot returns a deep copy of the published session.
func (e *entry) snapshot() domain.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.Clone()
}

// Registry is the process-wide table of sessions. Lookups take a read lock
// on the table only; each entry has its own lock, so a busy session never
// blocks reads of another.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) add(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.snap.ID] = e
}

func (r *Registry) get(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, &domain.SessionNotFoundError{ID: id}
	}
	return e, nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// snapshots returns copies of every session ordered by creation time.
func (r *Registry) snapshots() []domain.Session {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]domain.Session, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
