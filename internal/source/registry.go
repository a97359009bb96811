package source

import (
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Entry is one registered source: its adapter, policy, and the rate limiter
// every query against it shares.
type Entry struct {
	Adapter Adapter
	Policy  Policy
	// Limiter is nil when the policy sets no rate limit.
	Limiter *rate.Limiter
}

// ID returns the adapter's source id.
func (e Entry) ID() string {
	return e.Adapter.ID()
}

// Registry maps source ids to adapters and their policies. It is populated
// at startup and read concurrently by queries afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string // registration order for deterministic iteration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Register adds an adapter under its ID with the given policy.
func (r *Registry) Register(a Adapter, p Policy) error {
	id := a.ID()
	if id == "" {
		return eris.New("source: adapter has empty id")
	}
	if err := p.Validate(); err != nil {
		return eris.Wrapf(err, "source: register %q", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return eris.Errorf("source: duplicate source %q", id)
	}
	r.entries[id] = &Entry{Adapter: a, Policy: p, Limiter: p.newLimiter()}
	r.order = append(r.order, id)
	return nil
}

// SetPolicy replaces the policy of a registered source. The limiter is
// rebuilt only when the rate settings change, so in-flight reservations on
// an unchanged limiter are kept.
func (r *Registry) SetPolicy(id string, p Policy) error {
	if err := p.Validate(); err != nil {
		return eris.Wrapf(err, "source: set policy %q", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return eris.Errorf("source: unknown source %q", id)
	}
	if e.Policy.RateLimit != p.RateLimit || e.Policy.Burst != p.Burst {
		e.Limiter = p.newLimiter()
	}
	e.Policy = p
	return nil
}

// Get returns the entry for a source id.
func (r *Registry) Get(id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, eris.Errorf("source: unknown source %q", id)
	}
	return *e, nil
}

// Select resolves a source selection to the entries to dispatch. An empty
// selection means every registered source, in registration order; otherwise
// the requested order is kept and repeated ids collapse to their first
// occurrence. Disabled sources are left out. An unknown id is an error.
func (r *Registry) Select(ids []string) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(ids) == 0 {
		ids = r.order
	}

	seen := make(map[string]bool, len(ids))
	result := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		e, ok := r.entries[id]
		if !ok {
			return nil, eris.Errorf("source: unknown source %q", id)
		}
		if !e.Policy.Enabled {
			zap.L().Debug("source disabled, skipping", zap.String("source", id))
			continue
		}
		result = append(result, *e)
	}
	return result, nil
}

// All returns every entry in registration order, disabled ones included.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, *r.entries[id])
	}
	return result
}

// IDs returns all registered source ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
