package broker

import (
	"testing"
	"time"

	"github.com/capitalize-ai/leadrelay/internal/room"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

func TestRegistryIsolatesTenants(t *testing.T) {
	g := NewRegistry(logger.NewNop(), 4)
	k := room.Normalize("Athens", "active")

	if n := g.Publish("t1", k, KindLeadCreated, "x"); n != 0 {
		t.Fatalf("expected no delivery before any session, got %d", n)
	}

	r1, r2 := g.For("t1"), g.For("t2")
	if r1 == r2 || g.For("t1") != r1 {
		t.Fatalf("expected one stable router per tenant")
	}
	a := r1.NewSession("a", "t1", "")
	b := r2.NewSession("b", "t2", "")
	_ = r1.Join(a.ID, k)
	_ = r2.Join(b.ID, k)

	if n := g.Publish("t1", k, KindLeadCreated, "x"); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if evt := recvEvent(t, a.Outbound(), time.Second); evt.Name() != "lead-active" {
		t.Errorf("unexpected event %q", evt.Name())
	}
	expectNoEvent(t, b.Outbound())
}
