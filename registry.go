package jsaas

import (
	"time"

	"github.com/google/uuid"
)

type storedScript struct {
	source       string
	lastAccessed time.Time
}

// ScriptRegistry is an in-memory TTL store for script sources. It is
// deliberately not safe for concurrent use: the dispatcher is its single
// owner and every operation runs on the dispatch loop.
type ScriptRegistry struct {
	ttl     time.Duration
	scripts map[uuid.UUID]storedScript
}

// NewScriptRegistry creates a registry whose entries expire ttl after their
// last access.
func NewScriptRegistry(ttl time.Duration) *ScriptRegistry {
	return &ScriptRegistry{
		ttl:     ttl,
		scripts: map[uuid.UUID]storedScript{},
	}
}

// Store allocates a fresh id for source and inserts it. Entries whose TTL
// has lapsed are evicted first; store is the only path that evicts, so an
// otherwise idle process never wakes up to clean house.
func (r *ScriptRegistry) Store(source string) uuid.UUID {
	now := time.Now()
	for id, s := range r.scripts {
		if now.Sub(s.lastAccessed) > r.ttl {
			delete(r.scripts, id)
		}
	}

	id := uuid.New()
	r.scripts[id] = storedScript{source: source, lastAccessed: now}
	return id
}

// Get returns the source for id, refreshing its last-access time so that a
// consumer polling a cached script keeps it alive.
func (r *ScriptRegistry) Get(id uuid.UUID) (string, bool) {
	s, ok := r.scripts[id]
	if !ok {
		return "", false
	}
	s.lastAccessed = time.Now()
	r.scripts[id] = s
	return s.source, true
}

// Remove deletes id. Removing an unknown id is a no-op.
func (r *ScriptRegistry) Remove(id uuid.UUID) {
	delete(r.scripts, id)
}

// Len returns the number of stored scripts, including any whose TTL has
// lapsed but which no store has evicted yet.
func (r *ScriptRegistry) Len() int {
	return len(r.scripts)
}
