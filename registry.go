package extws

import (
	"fmt"
	"sync"
)

// registry maps connection ids to live connections. A connection is in the
// registry from accept until its teardown completes.
type registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*Conn)}
}

func (r *registry) register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; ok {
		panic(fmt.Sprintf("extws: duplicate connection id %q", c.id))
	}
	r.conns[c.id] = c
}

func (r *registry) get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *registry) all() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
