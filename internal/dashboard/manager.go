// Package dashboard is the session-side half of lead distribution: it keeps a dashboard
// session joined to the rooms of its operator's areas and collects the leads routed to it.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/broker"
	"github.com/capitalize-ai/leadrelay/internal/model"
	"github.com/capitalize-ai/leadrelay/internal/room"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

// DefaultJoinRetry bounds the time spent retrying a single join.
const DefaultJoinRetry = 10 * time.Second

// Transport carries join and leave requests to the event router.
type Transport interface {
	Join(ctx context.Context, k room.Key) error
	Leave(ctx context.Context, k room.Key) error
}

// Manager owns the subscriptions of one dashboard session and dispatches routed events
// to them.
type Manager struct {
	transport Transport
	logger    *logger.Logger
	leads     *LeadList
	notifier  Notifier
	joinRetry time.Duration

	mu        sync.Mutex
	listeners map[string]map[*Subscription]struct{}

	// refMu is held across transport calls so a join and a leave of one room never race.
	refMu sync.Mutex
	refs  map[room.Key]int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNotifier sets the notifier raised for every accepted lead.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithLeadList sets the list accepted leads are prepended to.
func WithLeadList(l *LeadList) ManagerOption {
	return func(m *Manager) { m.leads = l }
}

// WithJoinRetry sets the maximum time spent retrying a join. Zero disables retries.
func WithJoinRetry(d time.Duration) ManagerOption {
	return func(m *Manager) { m.joinRetry = d }
}

// NewManager creates a manager joining rooms through t.
func NewManager(t Transport, log *logger.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		transport: t,
		logger:    log.Component("subscriptions"),
		joinRetry: DefaultJoinRetry,
		listeners: make(map[string]map[*Subscription]struct{}),
		refs:      make(map[room.Key]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.leads == nil {
		m.leads = NewLeadList(0)
	}
	if m.notifier == nil {
		m.notifier = NopNotifier{}
	}
	return m
}

// Leads returns the session's local lead list.
func (m *Manager) Leads() *LeadList {
	return m.leads
}

// ListenerName is the local listener name for lead-creation events of a disposition.
func ListenerName(d room.Disposition) string {
	return string(broker.KindLeadCreated) + ":" + string(d)
}

// Subscribe joins the rooms for areas and starts accepting leads of disposition d. An
// empty area set joins the global room. Join failures are logged and do not fail the
// subscription.
func (m *Manager) Subscribe(ctx context.Context, areas []string, d room.Disposition, opts ...SubscribeOption) (*Subscription, error) {
	if !d.Valid() {
		return nil, room.ErrUnknownDisposition
	}
	s := &Subscription{
		manager:     m,
		disposition: d,
		listener:    ListenerName(d),
		keys:        make(map[room.Key]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	keys := room.Keys(areas, string(d))
	for _, k := range keys {
		s.keys[k] = struct{}{}
	}

	m.mu.Lock()
	subs, ok := m.listeners[s.listener]
	if !ok {
		subs = make(map[*Subscription]struct{})
		m.listeners[s.listener] = subs
	}
	subs[s] = struct{}{}
	m.mu.Unlock()

	for _, k := range keys {
		m.acquire(ctx, k)
	}

	m.logger.Info("subscribed",
		zap.String("disposition", string(d)),
		zap.Strings("rooms", keyStrings(s.Keys())),
	)
	return s, nil
}

// Dispatch hands a routed event to the subscriptions listening for it. Events that are
// not lead deliveries, or whose payload is not a lead, are ignored.
func (m *Manager) Dispatch(event string, data json.RawMessage) {
	slug, ok := strings.CutPrefix(event, "lead-")
	if !ok {
		return
	}
	listener := ListenerName(room.Disposition(slug))

	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.listeners[listener]))
	for s := range m.listeners[listener] {
		subs = append(subs, s)
	}
	m.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	var lead model.Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		m.logger.Warn("dropping undecodable lead event", zap.String("event", event), zap.Error(err))
		return
	}
	k := room.Normalize(lead.Area, lead.Disposition)

	accepted := false
	for _, s := range subs {
		if !s.accepts(k) {
			continue
		}
		accepted = true
		if s.onLead != nil {
			s.onLead(lead)
		}
	}
	if !accepted {
		m.logger.Debug("filtered lead outside subscribed rooms",
			zap.String("lead_id", lead.ID),
			zap.Stringer("room", k),
		)
		return
	}
	if m.leads.Prepend(lead) {
		m.notifier.LeadArrived(lead)
	}
}

// acquire takes a reference on k, joining the room on the first one.
func (m *Manager) acquire(ctx context.Context, k room.Key) {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	m.refs[k]++
	if m.refs[k] == 1 {
		m.join(ctx, k)
	}
}

// release drops a reference on k, leaving the room when none remain.
func (m *Manager) release(ctx context.Context, k room.Key) {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	if m.refs[k] == 0 {
		return
	}
	m.refs[k]--
	if m.refs[k] == 0 {
		delete(m.refs, k)
		m.leave(ctx, k)
	}
}

func (m *Manager) join(ctx context.Context, k room.Key) {
	op := func() error {
		err := m.transport.Join(ctx, k)
		if errors.Is(err, broker.ErrUnknownSession) || errors.Is(err, broker.ErrSessionClosed) ||
			errors.Is(err, ErrTransportClosed) || errors.Is(err, ErrNotConnected) {
			return backoff.Permanent(err)
		}
		return err
	}

	var err error
	if m.joinRetry <= 0 {
		err = op()
	} else {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.MaxElapsedTime = m.joinRetry
		err = backoff.Retry(op, backoff.WithContext(b, ctx))
	}
	if errors.Is(err, ErrNotConnected) {
		m.logger.Info("join queued until the socket connects", zap.Stringer("room", k))
		return
	}
	if err != nil {
		m.logger.Error("failed to join room", zap.Stringer("room", k), zap.Error(err))
	}
}

func (m *Manager) leave(ctx context.Context, k room.Key) {
	if err := m.transport.Leave(ctx, k); err != nil {
		m.logger.Warn("failed to leave room", zap.Stringer("room", k), zap.Error(err))
	}
}

func (m *Manager) unregister(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.listeners[s.listener]
	delete(subs, s)
	if len(subs) == 0 {
		delete(m.listeners, s.listener)
	}
}

// SubscribeOption configures a Subscription.
type SubscribeOption func(*Subscription)

// WithLeadHandler sets a callback for every lead the subscription accepts.
func WithLeadHandler(fn func(model.Lead)) SubscribeOption {
	return func(s *Subscription) { s.onLead = fn }
}

// Subscription is the set of rooms one view of a session is joined to. Close is the
// only way its rooms are released. Views of one session sharing a room hold it jointly:
// the room is left when the last of them lets go.
type Subscription struct {
	manager     *Manager
	disposition room.Disposition
	listener    string
	onLead      func(model.Lead)

	// opMu serializes Reassign and Close so transport calls do not interleave.
	opMu sync.Mutex

	mu     sync.RWMutex
	keys   map[room.Key]struct{}
	closed bool
}

// Disposition returns the disposition the subscription listens for.
func (s *Subscription) Disposition() room.Disposition {
	return s.disposition
}

// Keys returns the rooms the subscription holds.
func (s *Subscription) Keys() []room.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]room.Key, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	return out
}

// Reassign moves the subscription to a new area set, joining and leaving only the rooms
// that changed. New rooms are accepted and joined before old ones are left, so leads in
// rooms present in both sets keep arriving throughout.
func (s *Subscription) Reassign(ctx context.Context, areas []string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	next := make(map[room.Key]struct{})
	for _, k := range room.Keys(areas, string(s.disposition)) {
		next[k] = struct{}{}
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrSubscriptionClosed
	}
	var added, removed []room.Key
	for k := range next {
		if _, ok := s.keys[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range s.keys {
		if _, ok := next[k]; !ok {
			removed = append(removed, k)
		}
	}
	s.mu.RUnlock()

	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	s.mu.Lock()
	for _, k := range added {
		s.keys[k] = struct{}{}
	}
	s.mu.Unlock()
	for _, k := range added {
		s.manager.acquire(ctx, k)
	}

	s.mu.Lock()
	for _, k := range removed {
		delete(s.keys, k)
	}
	s.mu.Unlock()
	for _, k := range removed {
		s.manager.release(ctx, k)
	}

	s.manager.logger.Info("subscription reassigned",
		zap.String("disposition", string(s.disposition)),
		zap.Strings("joined", keyStrings(added)),
		zap.Strings("left", keyStrings(removed)),
	)
	return nil
}

// Close leaves every room and stops accepting events. It is safe to call more than once.
func (s *Subscription) Close(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	keys := s.keys
	s.keys = make(map[room.Key]struct{})
	s.mu.Unlock()

	s.manager.unregister(s)
	for k := range keys {
		s.manager.release(ctx, k)
	}
}

func (s *Subscription) accepts(k room.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, ok := s.keys[k]
	return ok
}

// ErrSubscriptionClosed is returned when reassigning a closed subscription.
var ErrSubscriptionClosed = errors.New("subscription closed")

func keyStrings(keys []room.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
