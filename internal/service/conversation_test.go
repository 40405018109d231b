package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/capitalize-ai/leadrelay/internal/model"
	"github.com/capitalize-ai/leadrelay/internal/store"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

// countingConversations counts writes made through the repository.
type countingConversations struct {
	*store.ConversationStore
	updates int
}

func (c *countingConversations) UpdateFields(ctx context.Context, id string, updates map[string]interface{}) error {
	c.updates++
	return c.ConversationStore.UpdateFields(ctx, id, updates)
}

func newConversationService(t *testing.T) (*ConversationService, *countingConversations) {
	t.Helper()
	db, err := store.Open(store.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	repo := &countingConversations{ConversationStore: store.NewConversationStore(db)}
	return NewConversationService(repo, logger.NewNop()), repo
}

func resolveReq(name string, p model.Provenance) *model.ResolveConversationRequest {
	return &model.ResolveConversationRequest{
		ParticipantPhone:  "+306900000001",
		BusinessChannelID: "waba-1",
		Snapshot:          model.Snapshot{DisplayName: name},
		Provenance:        p,
	}
}

func TestResolveIdentityBackfillsOnlyEmptyFieldsFromTrustedCallers(t *testing.T) {
	svc, repo := newConversationService(t)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, resolveReq("Jane", model.ProvenanceUntrusted))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if first.DisplayName != "" {
		t.Fatalf("untrusted first contact must not seed identity, got %q", first.DisplayName)
	}

	second, err := svc.Resolve(ctx, resolveReq("Jane", model.ProvenanceTrusted))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if second.ID != first.ID || second.DisplayName != "Jane" {
		t.Fatalf("expected trusted resolve to backfill Jane on %s, got %+v", first.ID, second)
	}

	third, err := svc.Resolve(ctx, resolveReq("John", model.ProvenanceTrusted))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if third.DisplayName != "Jane" {
		t.Fatalf("set identity field must not be overwritten, got %q", third.DisplayName)
	}

	stored, err := svc.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.DisplayName != "Jane" {
		t.Errorf("stored name %q, want Jane", stored.DisplayName)
	}
	if repo.updates != 1 {
		t.Errorf("expected exactly one write, got %d", repo.updates)
	}
}

func TestResolveUntrustedNeverTouchesExistingRecord(t *testing.T) {
	svc, repo := newConversationService(t)
	ctx := context.Background()

	created, err := svc.Resolve(ctx, &model.ResolveConversationRequest{
		ParticipantPhone:  "+306900000002",
		BusinessChannelID: "waba-1",
		Snapshot:          model.Snapshot{Role: model.RoleOwner},
		Provenance:        model.ProvenanceTrusted,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if created.Role != model.RoleOwner || created.DisplayName != "" {
		t.Fatalf("unexpected created record %+v", created)
	}

	got, err := svc.Resolve(ctx, &model.ResolveConversationRequest{
		ParticipantPhone:  "+306900000002",
		BusinessChannelID: "waba-1",
		Snapshot:          model.Snapshot{DisplayName: "Guess", Location: "Athens"},
		Provenance:        model.ProvenanceUntrusted,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.DisplayName != "" || got.Location != "" {
		t.Fatalf("untrusted resolve changed identity: %+v", got)
	}
	if repo.updates != 0 {
		t.Errorf("expected no writes, got %d", repo.updates)
	}
}

func TestResolveBackfillsSeveralFieldsInOneWrite(t *testing.T) {
	svc, repo := newConversationService(t)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, resolveReq("Jane", model.ProvenanceTrusted)); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	got, err := svc.Resolve(ctx, &model.ResolveConversationRequest{
		ParticipantPhone:  "+306900000001",
		BusinessChannelID: "waba-1",
		Snapshot: model.Snapshot{
			DisplayName:   "John",
			Location:      "Paris",
			Role:          model.RoleGuest,
			ReferenceLink: "https://example.com/listing/7",
		},
		Provenance: model.ProvenanceTrusted,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.DisplayName != "Jane" || got.Location != "Paris" || got.Role != model.RoleGuest || got.ReferenceLink == "" {
		t.Fatalf("unexpected merge result %+v", got)
	}
	if repo.updates != 1 {
		t.Errorf("expected a single write, got %d", repo.updates)
	}
}

func TestResolveValidation(t *testing.T) {
	svc, _ := newConversationService(t)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, resolveReq("Jane", "maybe")); !errors.Is(err, ErrInvalidProvenance) {
		t.Errorf("expected ErrInvalidProvenance, got %v", err)
	}
	req := resolveReq("Jane", model.ProvenanceTrusted)
	req.BusinessChannelID = " "
	if _, err := svc.Resolve(ctx, req); !errors.Is(err, ErrInvalidConversation) {
		t.Errorf("expected ErrInvalidConversation, got %v", err)
	}
	req = resolveReq("Jane", model.ProvenanceTrusted)
	req.Snapshot.Role = "landlord"
	if _, err := svc.Resolve(ctx, req); !errors.Is(err, ErrInvalidConversation) {
		t.Errorf("expected ErrInvalidConversation for bad role, got %v", err)
	}
}

func TestSnapshotUpdates(t *testing.T) {
	current := model.Snapshot{DisplayName: "Jane"}
	candidate := model.Snapshot{DisplayName: "John", Location: "  ", ReferenceLink: "link"}

	if got := snapshotUpdates(current, candidate, false); len(got) != 0 {
		t.Errorf("untrusted candidate produced updates %v", got)
	}
	got := snapshotUpdates(current, candidate, true)
	if len(got) != 1 || got["reference_link"] != "link" {
		t.Errorf("unexpected updates %v", got)
	}
}
