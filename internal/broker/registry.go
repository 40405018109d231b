package broker

import (
	"sync"

	"github.com/capitalize-ai/leadrelay/internal/room"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

// Registry keeps a separate router per tenant so rooms with the same key never mix
// sessions of different tenants.
type Registry struct {
	logger *logger.Logger
	buffer int

	mu      sync.RWMutex
	routers map[string]*Router
}

// NewRegistry creates a registry whose routers buffer up to buffer events per session.
func NewRegistry(log *logger.Logger, buffer int) *Registry {
	return &Registry{
		logger:  log,
		buffer:  buffer,
		routers: make(map[string]*Router),
	}
}

// For returns the tenant's router, creating it on first use.
func (g *Registry) For(tenantID string) *Router {
	g.mu.RLock()
	r, ok := g.routers[tenantID]
	g.mu.RUnlock()
	if ok {
		return r
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.routers[tenantID]; ok {
		return r
	}
	r = NewRouter(g.logger, g.buffer)
	g.routers[tenantID] = r
	return r
}

// Publish delivers to the room on the tenant's router. A tenant with no connected
// sessions has no router and the publish is a no-op.
func (g *Registry) Publish(tenantID string, k room.Key, kind Kind, payload any) int {
	g.mu.RLock()
	r, ok := g.routers[tenantID]
	g.mu.RUnlock()
	if !ok {
		return 0
	}
	return r.Publish(k, kind, payload)
}
