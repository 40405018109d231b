package optimistic

import "sync"

// Member is a controller that can be tracked by a Group.
type Member interface {
	Key() Key
	Stop()
}

// Group tracks the controllers of one view so they can be torn down together.
type Group struct {
	mu      sync.Mutex
	members map[Key]Member
	stopped bool
}

// NewGroup creates an empty group.
func NewGroup() *Group {
	return &Group{members: make(map[Key]Member)}
}

// Add tracks m. A member already tracked under the same key is stopped and replaced,
// keeping a single writer per key. Adding to a stopped group stops m immediately.
func (g *Group) Add(m Member) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		m.Stop()
		return
	}
	if old, ok := g.members[m.Key()]; ok && old != m {
		old.Stop()
	}
	g.members[m.Key()] = m
}

// Lookup returns the member tracked under key.
func (g *Group) Lookup(key Key) (Member, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.members[key]
	return m, ok
}

// Remove stops and forgets the member tracked under key.
func (g *Group) Remove(key Key) {
	g.mu.Lock()
	m, ok := g.members[key]
	delete(g.members, key)
	g.mu.Unlock()
	if ok {
		m.Stop()
	}
}

// Len returns the number of tracked members.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Stop stops every member. It is safe to call more than once.
func (g *Group) Stop() {
	g.mu.Lock()
	members := g.members
	g.members = make(map[Key]Member)
	g.stopped = true
	g.mu.Unlock()
	for _, m := range members {
		m.Stop()
	}
}
