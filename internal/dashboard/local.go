package dashboard

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/broker"
	"github.com/capitalize-ai/leadrelay/internal/room"
)

// LocalTransport joins rooms on an in-process router.
type LocalTransport struct {
	router  *broker.Router
	session *broker.Session
}

// NewLocalTransport creates a transport for a session registered on router.
func NewLocalTransport(router *broker.Router, session *broker.Session) *LocalTransport {
	return &LocalTransport{router: router, session: session}
}

func (t *LocalTransport) Join(_ context.Context, k room.Key) error {
	return t.router.Join(t.session.ID, k)
}

func (t *LocalTransport) Leave(_ context.Context, k room.Key) error {
	return t.router.Leave(t.session.ID, k)
}

// Pump dispatches every event delivered to the session into m until ctx is done or the
// session is removed from the router.
func (t *LocalTransport) Pump(ctx context.Context, m *Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-t.session.Outbound():
			if !ok {
				return
			}
			data, err := evt.Data()
			if err != nil {
				m.logger.Warn("dropping unencodable event", zap.String("event", evt.Name()), zap.Error(err))
				continue
			}
			m.Dispatch(evt.Name(), data)
		}
	}
}
