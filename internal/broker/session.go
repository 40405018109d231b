package broker

import (
	"encoding/json"
	"sync"

	"github.com/capitalize-ai/leadrelay/internal/room"
)

// Event is a typed routed event.
type Event struct {
	Room    room.Key
	Kind    Kind
	Payload any
}

// Kind classifies routed events.
type Kind string

// KindLeadCreated is the kind of a lead-creation event.
const KindLeadCreated Kind = "lead-created"

// Name is the wire-level event name for e.
func (e Event) Name() string {
	switch e.Kind {
	case KindLeadCreated:
		return e.Room.EventName()
	default:
		return string(e.Kind)
	}
}

// Data returns the JSON form of the payload. Payloads forwarded from the cluster bus
// are already raw JSON and pass through unchanged.
func (e Event) Data() (json.RawMessage, error) {
	switch v := e.Payload.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}

// Session is a connected dashboard session as seen by the router.
type Session struct {
	ID       string
	TenantID string
	UserID   string

	outbound chan Event

	mu     sync.Mutex
	rooms  map[room.Key]struct{}
	closed bool
}

// Outbound returns the channel events are delivered on. It is closed when the
// session is removed from the router.
func (s *Session) Outbound() <-chan Event {
	return s.outbound
}

// Rooms returns the keys the session is currently a member of.
func (s *Session) Rooms() []room.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]room.Key, 0, len(s.rooms))
	for k := range s.rooms {
		out = append(out, k)
	}
	return out
}

func (s *Session) track(k room.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.rooms[k] = struct{}{}
	return true
}

func (s *Session) untrack(k room.Key) {
	s.mu.Lock()
	delete(s.rooms, k)
	s.mu.Unlock()
}

// deliver is a non-blocking send. Callers hold the room lock, which keeps it from
// racing with close.
func (s *Session) deliver(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.outbound <- evt:
		return true
	default:
		return false
	}
}

func (s *Session) close() []room.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	keys := make([]room.Key, 0, len(s.rooms))
	for k := range s.rooms {
		keys = append(keys, k)
	}
	s.rooms = make(map[room.Key]struct{})
	close(s.outbound)
	return keys
}
