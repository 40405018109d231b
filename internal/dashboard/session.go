package dashboard

import (
	"context"
	"sync"

	"github.com/capitalize-ai/leadrelay/internal/room"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

// Session ties together the subscriptions and field editors of one dashboard session.
type Session struct {
	Manager *Manager
	Editor  *Editor

	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// NewSession creates a session joining rooms through t and persisting edits through w.
func NewSession(t Transport, w FieldWriter, log *logger.Logger, opts ...ManagerOption) *Session {
	return &Session{
		Manager: NewManager(t, log, opts...),
		Editor:  NewEditor(w, log),
	}
}

// Subscribe subscribes the session and tracks the subscription for Close.
func (s *Session) Subscribe(ctx context.Context, areas []string, d room.Disposition, opts ...SubscribeOption) (*Subscription, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSubscriptionClosed
	}

	sub, err := s.Manager.Subscribe(ctx, areas, d, opts...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.Close(ctx)
		return nil, ErrSubscriptionClosed
	}
	s.subs = append(s.subs, sub)
	return sub, nil
}

// Close releases every subscription and cancels pending field writes. Writes already in
// flight complete but no longer update the view.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close(ctx)
	}
	s.Editor.Stop()
}
