package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/capitalize-ai/leadrelay/internal/model"
	"github.com/capitalize-ai/leadrelay/internal/optimistic"
	"github.com/capitalize-ai/leadrelay/internal/room"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

// newRelayStub serves a websocket that answers every join frame with one lead routed
// to the joined room.
func newRelayStub(t *testing.T, frames chan<- model.Frame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var f model.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
			if f.Type != model.FrameJoin {
				continue
			}
			lead := model.Lead{ID: "lead-" + f.Area, Area: f.Area, Disposition: f.Disposition}
			data, _ := json.Marshal(lead)
			_ = conn.WriteJSON(model.WireEvent{Event: model.EventHeartbeat})
			_ = conn.WriteJSON(model.WireEvent{Event: "lead-" + f.Disposition, Data: data})
		}
	}))
}

func TestSocketTransportJoinsAndDispatches(t *testing.T) {
	frames := make(chan model.Frame, 8)
	srv := newRelayStub(t, frames)
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", nil)
	if !strings.HasPrefix(client.SocketURL(), "ws://") {
		t.Fatalf("unexpected socket url %s", client.SocketURL())
	}
	// The stub serves every path.
	st := NewSocketTransport(client.SocketURL(), client.AuthHeader(), logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := st.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	m := newTestManager(st)
	done := make(chan error, 1)
	go func() { done <- st.Run(ctx, m) }()

	sub, err := m.Subscribe(ctx, []string{"Athens"}, room.DispositionActive)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	select {
	case f := <-frames:
		if f.Type != model.FrameJoin || f.Area != "athens" || f.Disposition != "active" {
			t.Fatalf("unexpected join frame %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for join frame")
	}

	if got := waitLeads(t, m, 1); got[0].ID != "lead-athens" {
		t.Fatalf("unexpected leads %+v", got)
	}

	sub.Close(ctx)
	select {
	case f := <-frames:
		if f.Type != model.FrameLeave || f.Area != "athens" {
			t.Fatalf("unexpected leave frame %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for leave frame")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if err := st.Join(context.Background(), room.Global("active")); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
}

func TestSocketTransportRejectsBadToken(t *testing.T) {
	srv := newRelayStub(t, make(chan model.Frame, 1))
	defer srv.Close()

	client := NewClient(srv.URL, "wrong", nil)
	st := NewSocketTransport(client.SocketURL(), client.AuthHeader(), logger.NewNop())
	if err := st.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial to fail")
	}
}

func TestJoinWhileDisconnectedIsReplayed(t *testing.T) {
	frames := make(chan model.Frame, 8)
	srv := newRelayStub(t, frames)
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", nil)
	st := NewSocketTransport(client.SocketURL(), client.AuthHeader(), logger.NewNop())
	defer st.Close()

	k := room.Normalize("Paris", "fresh")
	if err := st.Join(context.Background(), k); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	select {
	case f := <-frames:
		if f.Area != "paris" || f.Disposition != "fresh" {
			t.Fatalf("unexpected replayed frame %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for replayed join")
	}
}

func TestClientUpdateFieldAndAreas(t *testing.T) {
	var patched atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/me/areas":
			_ = json.NewEncoder(w).Encode(model.AreasResponse{Areas: []string{"Athens"}})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/v1/leads/l-1/fields/guest_count":
			var req model.UpdateFieldRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			patched.Store(req.Value)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid field"})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	ctx := context.Background()

	areas, err := c.Areas(ctx)
	if err != nil || len(areas) != 1 || areas[0] != "Athens" {
		t.Fatalf("Areas returned %v, %v", areas, err)
	}
	if err := c.UpdateField(ctx, "l-1", model.FieldGuestCount, 4); err != nil {
		t.Fatalf("UpdateField failed: %v", err)
	}
	if v, _ := patched.Load().(float64); v != 4 {
		t.Errorf("expected value 4 sent, got %v", patched.Load())
	}

	err = c.UpdateField(ctx, "l-1", model.LeadField("nope"), 1)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnprocessableEntity || se.Message != "invalid field" {
		t.Fatalf("expected StatusError 422, got %v", err)
	}
}

type fakeWriter struct {
	calls atomic.Int32
	err   error
}

func (f *fakeWriter) UpdateField(context.Context, string, model.LeadField, any) error {
	f.calls.Add(1)
	return f.err
}

func TestSessionCloseCancelsPendingEdits(t *testing.T) {
	w := &fakeWriter{}
	s := NewSession(newFakeTransport(), w, logger.NewNop(), WithJoinRetry(0))
	ctx := context.Background()
	if _, err := s.Subscribe(ctx, []string{"Athens"}, room.DispositionActive); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	lead := model.Lead{ID: "l-1", Area: "Athens", Disposition: "active", GuestCount: 2}
	c, err := s.Editor.Numeric(lead, model.FieldGuestCount, nil)
	if err != nil {
		t.Fatalf("Numeric failed: %v", err)
	}
	if c.Value() != 2 {
		t.Fatalf("expected initial value 2, got %d", c.Value())
	}
	_ = c.Mutate(3)

	s.Close(ctx)
	s.Close(ctx)
	time.Sleep(optimistic.DefaultDelay + 100*time.Millisecond)
	if w.calls.Load() != 0 {
		t.Fatalf("expected pending write cancelled, got %d calls", w.calls.Load())
	}
	if _, err := s.Subscribe(ctx, nil, room.DispositionActive); !errors.Is(err, ErrSubscriptionClosed) {
		t.Errorf("expected ErrSubscriptionClosed after Close, got %v", err)
	}
}

func TestEditorStatusFieldRollsBack(t *testing.T) {
	w := &fakeWriter{err: errors.New("server error")}
	e := NewEditor(w, logger.NewNop(), optimistic.WithDelay(10*time.Millisecond))
	defer e.Stop()

	applied := make(chan string, 8)
	f, err := e.Status(model.Lead{ID: "l-1"}, model.FieldSalesPriority, func(v string) { applied <- v })
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if next, _ := f.Click(); next != "Low" {
		t.Fatalf("expected Low, got %q", next)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-applied:
			if v == "None" {
				if w.calls.Load() != 1 {
					t.Errorf("expected one write, got %d", w.calls.Load())
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for rollback")
		}
	}
}

func TestEditorRejectsWrongFieldKinds(t *testing.T) {
	e := NewEditor(&fakeWriter{}, logger.NewNop())
	defer e.Stop()
	if _, err := e.Numeric(model.Lead{ID: "l"}, model.FieldSalesPriority, nil); err == nil {
		t.Errorf("expected error for non-numeric field")
	}
	if _, err := e.Status(model.Lead{ID: "l"}, model.FieldBedCount, nil); err == nil {
		t.Errorf("expected error for non-status field")
	}
}

func TestSubscribeWhileDisconnectedReturnsPromptly(t *testing.T) {
	frames := make(chan model.Frame, 8)
	srv := newRelayStub(t, frames)
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", nil)
	st := NewSocketTransport(client.SocketURL(), client.AuthHeader(), logger.NewNop())
	defer st.Close()
	m := NewManager(st, logger.NewNop())

	start := time.Now()
	if _, err := m.Subscribe(context.Background(), []string{"Athens", "Paris"}, room.DispositionActive); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Subscribe took %v while disconnected", elapsed)
	}

	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case f := <-frames:
			seen[f.Area] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for replayed joins, have %v", seen)
		}
	}
	if !seen["athens"] || !seen["paris"] {
		t.Errorf("unexpected replayed rooms %v", seen)
	}
}
