package extws

import (
	"sort"
	"sync"
)

type members map[string]*Conn

// groupIndex maps group ids to their members. Each Conn's own group set is
// owned by the index and only touched under mu, which keeps both directions
// of the membership relation consistent.
type groupIndex struct {
	mu     sync.RWMutex
	groups map[string]members
}

func newGroupIndex() *groupIndex {
	return &groupIndex{groups: make(map[string]members)}
}

// join adds c to group. It returns the transport error, if any, and leaves
// membership unchanged in that case. Joining on a connection that is no
// longer open does nothing.
func (g *groupIndex) join(group string, c *Conn) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c.State() != StateOpen {
		return false, nil
	}
	if _, ok := c.groups[group]; ok {
		return false, nil
	}
	if err := c.transport.Subscribe(group); err != nil {
		return false, err
	}
	m, ok := g.groups[group]
	if !ok {
		m = make(members)
		g.groups[group] = m
	}
	m[c.id] = c
	c.groups[group] = struct{}{}
	return true, nil
}

func (g *groupIndex) leave(group string, c *Conn) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := c.groups[group]; !ok {
		return false, nil
	}
	if err := c.transport.Unsubscribe(group); err != nil {
		return false, err
	}
	g.drop(group, c)
	return true, nil
}

// drop must be called with mu held.
func (g *groupIndex) drop(group string, c *Conn) {
	delete(c.groups, group)
	if m, ok := g.groups[group]; ok {
		delete(m, c.id)
		if len(m) == 0 {
			delete(g.groups, group)
		}
	}
}

// removeConnection clears every membership of c.
func (g *groupIndex) removeConnection(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for group := range c.groups {
		g.drop(group, c)
	}
}

// members returns a snapshot of the connections in group.
func (g *groupIndex) members(group string) []*Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m := g.groups[group]
	conns := make([]*Conn, 0, len(m))
	for _, c := range m {
		conns = append(conns, c)
	}
	return conns
}

func (g *groupIndex) groupsOf(c *Conn) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	groups := make([]string, 0, len(c.groups))
	for group := range c.groups {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return groups
}

func (g *groupIndex) len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.groups)
}

// publish delivers raw to every member of group at call time. A failing
// member is disconnected without affecting delivery to the others.
func (g *groupIndex) publish(group string, raw []byte) int {
	conns := g.members(group)
	for _, c := range conns {
		c.deliver(raw)
	}
	return len(conns)
}
