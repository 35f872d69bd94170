package session

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/quiz-funnel/internal/funnel"
)

// DefaultRegistrySize bounds the live sessions kept in memory.
const DefaultRegistrySize = 10000

// Registry creates sessions and keeps the most recently used ones. When
// full, the least recently used session is closed and forgotten.
type Registry struct {
	source funnel.Source
	opts   Options
	cache  *lru.Cache[string, *Controller]
}

// NewRegistry creates a Registry. New sessions take the definition the
// source holds at creation time.
func NewRegistry(source funnel.Source, opts Options, size int) (*Registry, error) {
	if source == nil {
		return nil, eris.New("session: registry needs a definition source")
	}
	if size <= 0 {
		size = DefaultRegistrySize
	}
	cache, err := lru.NewWithEvict[string, *Controller](size, func(_ string, c *Controller) {
		c.Close()
	})
	if err != nil {
		return nil, eris.Wrap(err, "session: create registry")
	}
	return &Registry{source: source, opts: opts, cache: cache}, nil
}

// Create starts a new session for visitorID and registers it.
func (r *Registry) Create(visitorID string) *Controller {
	c := New(r.source.Current(), visitorID, r.opts)
	c.Start()
	r.cache.Add(c.ID(), c)
	r.opts.Metrics.SetActiveSessions(r.cache.Len())
	return c
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Controller, bool) {
	return r.cache.Get(id)
}

// Remove closes and forgets a session.
func (r *Registry) Remove(id string) bool {
	ok := r.cache.Remove(id)
	r.opts.Metrics.SetActiveSessions(r.cache.Len())
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Close closes every session.
func (r *Registry) Close() {
	r.cache.Purge()
	r.opts.Metrics.SetActiveSessions(0)
}
