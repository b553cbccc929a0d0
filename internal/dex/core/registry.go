package core

import "sync"

// Registry holds the venues wired at startup.
type Registry struct {
	mu     sync.RWMutex
	venues map[VenueID]*Venue
}

func NewRegistry() *Registry { return &Registry{venues: make(map[VenueID]*Venue, 4)} }

func (r *Registry) Register(v *Venue) {
	r.mu.Lock()
	r.venues[v.ID] = v
	r.mu.Unlock()
}

func (r *Registry) Get(id VenueID) *Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.venues[id]
}

// Enabled returns the registered venues among ids, preserving the order of ids.
func (r *Registry) Enabled(ids []VenueID) []*Venue {
	out := make([]*Venue, 0, len(ids))
	for _, id := range ids {
		if v := r.Get(id); v != nil {
			out = append(out, v)
		}
	}
	return out
}
