package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/capitalize-ai/leadrelay/internal/broker"
	"github.com/capitalize-ai/leadrelay/internal/bus"
	"github.com/capitalize-ai/leadrelay/internal/dashboard"
	"github.com/capitalize-ai/leadrelay/internal/middleware"
	"github.com/capitalize-ai/leadrelay/internal/model"
	"github.com/capitalize-ai/leadrelay/internal/room"
	"github.com/capitalize-ai/leadrelay/internal/service"
	"github.com/capitalize-ai/leadrelay/internal/store"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

const testSecret = "test-secret"

type testRelay struct {
	srv      *httptest.Server
	registry *broker.Registry
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	log := logger.NewNop()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := store.Open(store.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := broker.NewRegistry(log, 16)
	b := bus.NewMemory()
	if err := bus.Forward(ctx, b, reg, log); err != nil {
		t.Fatalf("forward: %v", err)
	}

	leads := store.NewLeadStore(db)
	h := Handlers{
		Health:        NewHealthHandler(map[string]Check{"database": leads.Ping, "bus": b.Ping}),
		Leads:         NewLeadHandler(service.NewLeadService(leads, b, log), log),
		Conversations: NewConversationHandler(service.NewConversationService(store.NewConversationStore(db), log), log),
		Socket:        NewSocketHandler(reg, time.Minute, log),
		Stream:        NewStreamHandler(reg, time.Minute, log),
	}
	srv := httptest.NewServer(NewRouter(h, RouterOptions{
		JWTSecret:         testSecret,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
	}, log))
	t.Cleanup(srv.Close)

	return &testRelay{srv: srv, registry: reg}
}

// token signs an operator token that also carries the service scopes.
func token(t *testing.T, tenantID string, areas ...string) string {
	t.Helper()
	return sign(t, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: tenantID,
		Scopes:   []string{middleware.ScopeResolve, middleware.ScopeWebhook},
		Areas:    areas,
	})
}

func sign(t *testing.T, claims middleware.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (tr *testRelay) do(t *testing.T, method, path, tok string, body any) (*http.Response, []byte) {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		r = bytes.NewReader(raw)
	} else {
		r = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, tr.srv.URL+path, r)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func (tr *testRelay) createLead(t *testing.T, tok string, req model.CreateLeadRequest) model.Lead {
	t.Helper()
	resp, body := tr.do(t, http.MethodPost, "/api/v1/leads", tok, req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var lead model.Lead
	if err := json.Unmarshal(body, &lead); err != nil {
		t.Fatalf("decode lead: %v", err)
	}
	return lead
}

func waitMembers(t *testing.T, r *broker.Router, k room.Key, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.Members(k)) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %s never reached %d members", k, n)
}

func dialSocket(t *testing.T, tr *testRelay, tok string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tr.srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + tok}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if evt := readEvent(t, conn); evt.Event != model.EventConnected {
		t.Fatalf("expected connected event, got %q", evt.Event)
	}
	return conn
}

// readEvent returns the next non-heartbeat event.
func readEvent(t *testing.T, conn *websocket.Conn) model.WireEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var evt model.WireEvent
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if evt.Event != model.EventHeartbeat {
			return evt
		}
	}
}

func TestMissingTokenIsRejected(t *testing.T) {
	tr := newTestRelay(t)
	resp, _ := tr.do(t, http.MethodGet, "/api/v1/leads", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestTokenWithoutTenantIsRejected(t *testing.T) {
	tr := newTestRelay(t)
	tok := sign(t, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "operator-1"},
	})
	resp, _ := tr.do(t, http.MethodGet, "/api/v1/leads", tok, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestServiceRoutesRequireScopes(t *testing.T) {
	tr := newTestRelay(t)
	tok := sign(t, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "operator-1"},
		TenantID:         "t1",
	})
	hook := model.InboundMessageWebhook{From: "+30 690 000 0001", PhoneNumber: "biz-1"}
	if resp, _ := tr.do(t, http.MethodPost, "/api/v1/webhooks/whatsapp", tok, hook); resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for webhook, got %d", resp.StatusCode)
	}
	req := model.ResolveConversationRequest{ParticipantPhone: hook.From, BusinessChannelID: "biz-1", Provenance: model.ProvenanceTrusted}
	if resp, _ := tr.do(t, http.MethodPost, "/api/v1/conversations/resolve", tok, req); resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for resolve, got %d", resp.StatusCode)
	}
}

func TestIntakeReachesJoinedSocket(t *testing.T) {
	tr := newTestRelay(t)
	tok := token(t, "t1")
	conn := dialSocket(t, tr, tok)

	if err := conn.WriteJSON(model.Frame{Type: model.FrameJoin, Area: "Athens", Disposition: "active"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	k := room.Normalize("athens", "active")
	waitMembers(t, tr.registry.For("t1"), k, 1)

	lead := tr.createLead(t, tok, model.CreateLeadRequest{Name: "Maria", Area: " Athens ", Disposition: "Active"})
	if lead.AreaSlug != "athens" || lead.SalesPriority != "None" {
		t.Fatalf("unexpected lead %+v", lead)
	}

	evt := readEvent(t, conn)
	if evt.Event != "lead-active" {
		t.Fatalf("expected lead-active, got %q", evt.Event)
	}
	var got model.Lead
	if err := json.Unmarshal(evt.Data, &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.ID != lead.ID {
		t.Errorf("expected lead %s, got %s", lead.ID, got.ID)
	}
}

func TestIntakeDoesNotCrossTenants(t *testing.T) {
	tr := newTestRelay(t)
	conn := dialSocket(t, tr, token(t, "t2"))
	if err := conn.WriteJSON(model.Frame{Type: model.FrameJoin, Area: "athens", Disposition: "active"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	waitMembers(t, tr.registry.For("t2"), room.Normalize("athens", "active"), 1)

	tr.createLead(t, token(t, "t1"), model.CreateLeadRequest{Name: "Maria", Area: "Athens", Disposition: "active"})

	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var evt model.WireEvent
	if err := conn.ReadJSON(&evt); err == nil && evt.Event != model.EventHeartbeat {
		t.Fatalf("tenant t2 received %q", evt.Event)
	}
}

func TestSocketReportsBadFrames(t *testing.T) {
	tr := newTestRelay(t)
	conn := dialSocket(t, tr, token(t, "t1"))

	if err := conn.WriteJSON(model.Frame{Type: model.FrameJoin, Area: "athens", Disposition: "archived"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	evt := readEvent(t, conn)
	if evt.Event != model.EventError {
		t.Fatalf("expected error event, got %q", evt.Event)
	}
	var e model.ErrorEvent
	_ = json.Unmarshal(evt.Data, &e)
	if e.Code != "unknown_disposition" {
		t.Errorf("expected unknown_disposition, got %q", e.Code)
	}

	if err := conn.WriteJSON(model.Frame{Type: "subscribe", Area: "athens", Disposition: "active"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	evt = readEvent(t, conn)
	_ = json.Unmarshal(evt.Data, &e)
	if evt.Event != model.EventError || e.Code != "unknown_frame" {
		t.Errorf("expected unknown_frame error, got %q %+v", evt.Event, e)
	}
}

func TestSocketLeaveStopsDelivery(t *testing.T) {
	tr := newTestRelay(t)
	tok := token(t, "t1")
	conn := dialSocket(t, tr, tok)
	k := room.Normalize("crete", "fresh")
	r := tr.registry.For("t1")

	_ = conn.WriteJSON(model.Frame{Type: model.FrameJoin, Area: "Crete", Disposition: "fresh"})
	waitMembers(t, r, k, 1)
	_ = conn.WriteJSON(model.Frame{Type: model.FrameLeave, Area: "Crete", Disposition: "fresh"})
	waitMembers(t, r, k, 0)

	if n := r.RoomCount(); n != 0 {
		t.Errorf("expected empty room to be collected, got %d rooms", n)
	}
}

func TestUpdateFieldValidation(t *testing.T) {
	tr := newTestRelay(t)
	tok := token(t, "t1")
	lead := tr.createLead(t, tok, model.CreateLeadRequest{Name: "Nikos", Area: "Crete", Disposition: "fresh"})
	path := "/api/v1/leads/" + lead.ID + "/fields/"

	cases := []struct {
		name   string
		path   string
		value  any
		status int
	}{
		{"non-number", path + "guest_count", "four", http.StatusUnprocessableEntity},
		{"negative", path + "bed_count", -1, http.StatusUnprocessableEntity},
		{"fractional", path + "min_budget", 10.5, http.StatusUnprocessableEntity},
		{"unknown field", path + "name", "x", http.StatusBadRequest},
		{"bad status", path + "sales_priority", "Urgent", http.StatusUnprocessableEntity},
		{"bad id", "/api/v1/leads/not-a-uuid/fields/guest_count", 1, http.StatusBadRequest},
		{"missing lead", "/api/v1/leads/0190a3c2-7b1e-7000-8000-000000000000/fields/guest_count", 1, http.StatusNotFound},
		{"ok number", path + "guest_count", 4, http.StatusOK},
		{"ok status", path + "sales_priority", "High", http.StatusOK},
	}
	for _, tc := range cases {
		resp, body := tr.do(t, http.MethodPatch, tc.path, tok, model.UpdateFieldRequest{Value: tc.value})
		if resp.StatusCode != tc.status {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.status, resp.StatusCode, body)
		}
	}

	_, body := tr.do(t, http.MethodGet, "/api/v1/leads/"+lead.ID, tok, nil)
	var got model.Lead
	_ = json.Unmarshal(body, &got)
	if got.GuestCount != 4 || got.SalesPriority != "High" || got.BedCount != 0 {
		t.Errorf("unexpected lead after updates %+v", got)
	}

	// Other tenants cannot see or edit the lead.
	other := token(t, "t2")
	if resp, _ := tr.do(t, http.MethodGet, "/api/v1/leads/"+lead.ID, other, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for other tenant, got %d", resp.StatusCode)
	}
}

func TestCreateLeadValidation(t *testing.T) {
	tr := newTestRelay(t)
	tok := token(t, "t1")

	resp, _ := tr.do(t, http.MethodPost, "/api/v1/leads", tok, model.CreateLeadRequest{Name: "A", Disposition: "archived"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown disposition, got %d", resp.StatusCode)
	}
	resp, _ = tr.do(t, http.MethodPost, "/api/v1/leads", tok, model.CreateLeadRequest{Disposition: "active"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing name, got %d", resp.StatusCode)
	}
	resp, _ = tr.do(t, http.MethodPost, "/api/v1/leads", tok, model.CreateLeadRequest{Name: "A", Phone: "call me", Disposition: "active"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad phone, got %d", resp.StatusCode)
	}
}

func TestListLeadsFiltersByArea(t *testing.T) {
	tr := newTestRelay(t)
	tok := token(t, "t1")
	tr.createLead(t, tok, model.CreateLeadRequest{Name: "A", Area: "New York", Disposition: "active"})
	tr.createLead(t, tok, model.CreateLeadRequest{Name: "B", Area: "Paris", Disposition: "active"})
	tr.createLead(t, tok, model.CreateLeadRequest{Name: "C", Disposition: "active"})

	_, body := tr.do(t, http.MethodGet, "/api/v1/leads?disposition=active&area=new%20york", tok, nil)
	var resp model.ListLeadsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || resp.Leads[0].Name != "A" {
		t.Fatalf("unexpected list %+v", resp)
	}

	_, body = tr.do(t, http.MethodGet, "/api/v1/leads?area=all", tok, nil)
	_ = json.Unmarshal(body, &resp)
	if resp.Total != 1 || resp.Leads[0].Name != "C" {
		t.Fatalf("expected only the arealess lead, got %+v", resp)
	}
}

func TestMyAreasComesFromToken(t *testing.T) {
	tr := newTestRelay(t)
	_, body := tr.do(t, http.MethodGet, "/api/v1/me/areas", token(t, "t1", "Athens", "Crete"), nil)
	var resp model.AreasResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Areas) != 2 || resp.Areas[0] != "Athens" {
		t.Errorf("unexpected areas %+v", resp.Areas)
	}

	_, body = tr.do(t, http.MethodGet, "/api/v1/me/areas", token(t, "t1"), nil)
	if strings.TrimSpace(string(body)) != `{"areas":[]}` {
		t.Errorf("expected empty area list, got %s", body)
	}
}

func TestWebhookNeverSeedsIdentity(t *testing.T) {
	tr := newTestRelay(t)
	tok := token(t, "t1")
	hook := model.InboundMessageWebhook{From: "+30 690 000 0001", PhoneNumber: "biz-1", ProfileName: "Jane"}

	resp, body := tr.do(t, http.MethodPost, "/api/v1/webhooks/whatsapp", tok, hook)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var conv model.Conversation
	_ = json.Unmarshal(body, &conv)
	if conv.DisplayName != "" {
		t.Fatalf("webhook seeded display name %q", conv.DisplayName)
	}

	_, body = tr.do(t, http.MethodPost, "/api/v1/conversations/resolve", tok, model.ResolveConversationRequest{
		ParticipantPhone:  hook.From,
		BusinessChannelID: hook.PhoneNumber,
		Snapshot:          model.Snapshot{DisplayName: "Jane", Role: model.RoleGuest},
		Provenance:        model.ProvenanceTrusted,
	})
	_ = json.Unmarshal(body, &conv)
	if conv.DisplayName != "Jane" || conv.Role != model.RoleGuest {
		t.Fatalf("trusted resolve did not backfill: %+v", conv)
	}

	hook.ProfileName = "John"
	tr.do(t, http.MethodPost, "/api/v1/webhooks/whatsapp", tok, hook)
	_, body = tr.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID, tok, nil)
	_ = json.Unmarshal(body, &conv)
	if conv.DisplayName != "Jane" {
		t.Errorf("expected Jane to survive, got %q", conv.DisplayName)
	}
}

func TestResolveRejectsBadProvenance(t *testing.T) {
	tr := newTestRelay(t)
	resp, _ := tr.do(t, http.MethodPost, "/api/v1/conversations/resolve", token(t, "t1"), model.ResolveConversationRequest{
		ParticipantPhone:  "+30 690 000 0001",
		BusinessChannelID: "biz-1",
		Provenance:        "sometimes",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStreamDeliversLeadEvents(t *testing.T) {
	tr := newTestRelay(t)
	tok := token(t, "t1", "Athens")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, tr.srv.URL+"/api/v1/leads/stream?disposition=active&access_token="+tok, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := bufio.NewScanner(resp.Body)
	next := func() (string, string) {
		var name, data string
		for events.Scan() {
			line := events.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		}
		t.Fatalf("stream ended: %v", events.Err())
		return "", ""
	}

	if name, _ := next(); name != model.EventConnected {
		t.Fatalf("expected connected, got %q", name)
	}
	lead := tr.createLead(t, tok, model.CreateLeadRequest{Name: "Eleni", Area: "Athens", Disposition: "active"})
	name, data := next()
	if name != "lead-active" || !strings.Contains(data, lead.ID) {
		t.Fatalf("unexpected event %q %s", name, data)
	}
}

func TestStreamRejectsUnknownDisposition(t *testing.T) {
	tr := newTestRelay(t)
	resp, _ := tr.do(t, http.MethodGet, "/api/v1/leads/stream?disposition=archived", token(t, "t1"), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestDashboardSessionAgainstRelay(t *testing.T) {
	tr := newTestRelay(t)
	tok := token(t, "t1", "Athens")
	client := dashboard.NewClient(tr.srv.URL, tok, nil)
	log := logger.NewNop()

	areas, err := client.Areas(context.Background())
	if err != nil {
		t.Fatalf("Areas failed: %v", err)
	}

	st := dashboard.NewSocketTransport(client.SocketURL(), client.AuthHeader(), log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := st.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	sess := dashboard.NewSession(st, client, log)
	defer sess.Close(context.Background())
	go func() { _ = st.Run(ctx, sess.Manager) }()

	if _, err := sess.Subscribe(ctx, areas, room.DispositionActive); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitMembers(t, tr.registry.For("t1"), room.Normalize("athens", "active"), 1)

	lead := tr.createLead(t, tok, model.CreateLeadRequest{Name: "Eleni", Area: "Athens", Disposition: "active"})
	tr.createLead(t, tok, model.CreateLeadRequest{Name: "Other", Area: "Paris", Disposition: "active"})

	deadline := time.Now().Add(2 * time.Second)
	for sess.Manager.Leads().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := sess.Manager.Leads().Snapshot()
	if len(got) != 1 || got[0].ID != lead.ID {
		t.Fatalf("unexpected dashboard leads %+v", got)
	}

	if err := client.UpdateField(ctx, lead.ID, model.FieldPropertiesShown, 3); err != nil {
		t.Fatalf("UpdateField failed: %v", err)
	}
	err = client.UpdateField(ctx, lead.ID, model.FieldMessageStatus, "Sent")
	var se *dashboard.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 status error, got %v", err)
	}
}

func TestReadyReportsFailingChecks(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"database": func(context.Context) error { return nil },
		"bus":      func(context.Context) error { return errors.New("nats not connected") },
	})
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "nats not connected") {
		t.Errorf("expected failing check in body, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	NewHealthHandler(nil).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with no checks, got %d", rec.Code)
	}
}

func TestErrorResponsesAreJSON(t *testing.T) {
	tr := newTestRelay(t)
	resp, body := tr.do(t, http.MethodGet, "/api/v1/leads/0190a3c2-7b1e-7000-8000-000000000000", token(t, "t1"), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("unexpected content type %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("unexpected cache control %q", cc)
	}
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		t.Fatalf("expected an error body, got %s (%v)", body, err)
	}
}
