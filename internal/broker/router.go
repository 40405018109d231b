// Package broker routes lead events to the dashboard sessions joined to a room.
package broker

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/room"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
	"github.com/capitalize-ai/leadrelay/pkg/metrics"
)

var (
	// ErrUnknownSession is returned for operations on a session the router does not know.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionClosed is returned when joining with a session that has been removed.
	ErrSessionClosed = errors.New("session closed")
)

// DefaultBuffer is the outbound buffer size of a session.
const DefaultBuffer = 64

type roomState struct {
	mu      sync.Mutex
	members map[string]*Session
	dead    bool
}

// Router is the process-wide registry of rooms and their member sessions.
type Router struct {
	logger *logger.Logger
	buffer int

	mu       sync.RWMutex
	rooms    map[room.Key]*roomState
	sessions map[string]*Session
}

// NewRouter creates a router whose sessions buffer up to buffer events.
func NewRouter(log *logger.Logger, buffer int) *Router {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Router{
		logger:   log.Component("router"),
		buffer:   buffer,
		rooms:    make(map[room.Key]*roomState),
		sessions: make(map[string]*Session),
	}
}

// NewSession registers a session. Registering an existing id returns the existing session.
func (r *Router) NewSession(id, tenantID, userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := &Session{
		ID:       id,
		TenantID: tenantID,
		UserID:   userID,
		outbound: make(chan Event, r.buffer),
		rooms:    make(map[room.Key]struct{}),
	}
	r.sessions[id] = s
	return s
}

// Session looks up a registered session.
func (r *Router) Session(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Join adds the session to the room, creating the room if needed. Joining twice is a no-op.
func (r *Router) Join(sessionID string, k room.Key) error {
	s, ok := r.Session(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	for {
		rs := r.roomFor(k)
		rs.mu.Lock()
		if rs.dead {
			// Lost a race with garbage collection; the next lookup creates a fresh room.
			rs.mu.Unlock()
			continue
		}
		if !s.track(k) {
			rs.mu.Unlock()
			return ErrSessionClosed
		}
		rs.members[sessionID] = s
		rs.mu.Unlock()
		r.logger.Debug("session joined room", zap.String("session_id", sessionID), zap.Stringer("room", k))
		return nil
	}
}

// Leave removes the session from the room. Leaving a room the session is not in is a no-op.
func (r *Router) Leave(sessionID string, k room.Key) error {
	s, ok := r.Session(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	r.removeMember(k, sessionID)
	s.untrack(k)
	r.logger.Debug("session left room", zap.String("session_id", sessionID), zap.Stringer("room", k))
	return nil
}

// Publish delivers the payload to every member of the room at call time and returns the
// number of sessions it reached. Membership cannot change while a publish is delivering.
func (r *Router) Publish(k room.Key, kind Kind, payload any) int {
	r.mu.RLock()
	rs, ok := r.rooms[k]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	evt := Event{Room: k, Kind: kind, Payload: payload}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	delivered := 0
	for id, s := range rs.members {
		if s.deliver(evt) {
			delivered++
			continue
		}
		metrics.EventsDropped.Inc()
		r.logger.Warn("dropping event; session outbound buffer full",
			zap.String("session_id", id),
			zap.Stringer("room", k),
		)
	}
	metrics.RecordPublish(k.Disposition, delivered)
	return delivered
}

// RemoveSession drops a disconnected session from every room and closes its outbound channel.
func (r *Router) RemoveSession(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, k := range s.close() {
		r.removeMember(k, sessionID)
	}
	r.logger.Debug("session removed", zap.String("session_id", sessionID))
}

// Members returns the ids of the sessions currently joined to the room.
func (r *Router) Members(k room.Key) []string {
	r.mu.RLock()
	rs, ok := r.rooms[k]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	ids := make([]string, 0, len(rs.members))
	for id := range rs.members {
		ids = append(ids, id)
	}
	return ids
}

// RoomCount returns the number of live rooms.
func (r *Router) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Router) roomFor(k room.Key) *roomState {
	r.mu.RLock()
	rs, ok := r.rooms[k]
	r.mu.RUnlock()
	if ok {
		return rs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rs, ok := r.rooms[k]; ok {
		return rs
	}
	rs = &roomState{members: make(map[string]*Session)}
	r.rooms[k] = rs
	metrics.RoomsActive.Set(float64(len(r.rooms)))
	return rs
}

func (r *Router) removeMember(k room.Key, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.rooms[k]
	if !ok {
		return
	}
	rs.mu.Lock()
	delete(rs.members, sessionID)
	empty := len(rs.members) == 0
	if empty {
		rs.dead = true
	}
	rs.mu.Unlock()
	if empty {
		delete(r.rooms, k)
		metrics.RoomsActive.Set(float64(len(r.rooms)))
	}
}
