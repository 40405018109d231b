package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/model"
	"github.com/capitalize-ai/leadrelay/internal/store"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
	"github.com/capitalize-ai/leadrelay/pkg/metrics"
	"github.com/capitalize-ai/leadrelay/pkg/tracing"
)

var (
	// ErrInvalidProvenance is returned for a provenance other than trusted or untrusted.
	ErrInvalidProvenance = errors.New("invalid provenance")
	// ErrInvalidConversation is returned when the conversation key or snapshot is malformed.
	ErrInvalidConversation = errors.New("invalid conversation")
)

// ConversationRepository stores conversations.
type ConversationRepository interface {
	Get(ctx context.Context, id string) (*model.Conversation, error)
	FindByKey(ctx context.Context, phone, channelID string) (*model.Conversation, error)
	Create(ctx context.Context, c *model.Conversation) (*model.Conversation, bool, error)
	UpdateFields(ctx context.Context, id string, updates map[string]interface{}) error
}

// ConversationService resolves conversation participants to stable records.
type ConversationService struct {
	conversations ConversationRepository
	logger        *logger.Logger
	tracer        trace.Tracer
}

// NewConversationService creates a new conversation service.
func NewConversationService(conversations ConversationRepository, log *logger.Logger) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		logger:        log.Component("conversations"),
		tracer:        tracing.Tracer("leadrelay/service"),
	}
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, id string) (*model.Conversation, error) {
	return s.conversations.Get(ctx, id)
}

// Resolve returns the conversation for a participant on a business channel, creating it
// on first contact. Identity fields are only ever filled while empty, and only from a
// trusted caller. An untrusted caller never seeds or changes identity fields.
func (s *ConversationService) Resolve(ctx context.Context, req *model.ResolveConversationRequest) (*model.Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "ConversationService.Resolve",
		trace.WithAttributes(attribute.String("conversation.provenance", string(req.Provenance))))
	defer span.End()

	phone := strings.TrimSpace(req.ParticipantPhone)
	channel := strings.TrimSpace(req.BusinessChannelID)
	if phone == "" || channel == "" {
		return nil, fmt.Errorf("%w: participant_phone and business_channel_id are required", ErrInvalidConversation)
	}
	if req.Provenance != model.ProvenanceTrusted && req.Provenance != model.ProvenanceUntrusted {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProvenance, req.Provenance)
	}
	if !req.Snapshot.Role.Valid() {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidConversation, req.Snapshot.Role)
	}
	trusted := req.Provenance == model.ProvenanceTrusted
	provenance := string(req.Provenance)

	conv, err := s.conversations.FindByKey(ctx, phone, channel)
	if errors.Is(err, store.ErrNotFound) {
		candidate := &model.Conversation{
			ID:                uuid.Must(uuid.NewV7()).String(),
			ParticipantPhone:  phone,
			BusinessChannelID: channel,
		}
		if trusted {
			candidate.DisplayName = strings.TrimSpace(req.Snapshot.DisplayName)
			candidate.Location = strings.TrimSpace(req.Snapshot.Location)
			candidate.Role = req.Snapshot.Role
			candidate.ReferenceLink = strings.TrimSpace(req.Snapshot.ReferenceLink)
		}

		var inserted bool
		conv, inserted, err = s.conversations.Create(ctx, candidate)
		if err != nil {
			return nil, s.fail(span, provenance, err)
		}
		if inserted {
			metrics.RecordResolve(provenance, "created")
			s.logger.Info("conversation created",
				zap.String("conversation_id", conv.ID),
				zap.String("provenance", provenance),
			)
			return conv, nil
		}
		// A concurrent first contact won; merge into its record.
	} else if err != nil {
		return nil, s.fail(span, provenance, err)
	}

	updates := snapshotUpdates(conv.Snapshot(), req.Snapshot, trusted)
	if len(updates) == 0 {
		metrics.RecordResolve(provenance, "unchanged")
		return conv, nil
	}
	fields := len(updates)
	if err := s.conversations.UpdateFields(ctx, conv.ID, updates); err != nil {
		return nil, s.fail(span, provenance, err)
	}
	applySnapshotUpdates(conv, updates)
	conv.UpdatedAt = time.Now().UTC()

	metrics.RecordResolve(provenance, "backfilled")
	s.logger.Info("conversation identity backfilled",
		zap.String("conversation_id", conv.ID),
		zap.Int("fields", fields),
	)
	return conv, nil
}

func (s *ConversationService) fail(span trace.Span, provenance string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "resolve failed")
	metrics.RecordResolve(provenance, "error")
	return err
}

// snapshotUpdates returns the column updates a candidate snapshot may make to the
// current one: only empty fields, only with a non-empty candidate, only when trusted.
func snapshotUpdates(current, candidate model.Snapshot, trusted bool) map[string]interface{} {
	updates := map[string]interface{}{}
	if !trusted {
		return updates
	}
	fill := func(column, have, want string) {
		want = strings.TrimSpace(want)
		if have == "" && want != "" {
			updates[column] = want
		}
	}
	fill("display_name", current.DisplayName, candidate.DisplayName)
	fill("location", current.Location, candidate.Location)
	fill("role", string(current.Role), string(candidate.Role))
	fill("reference_link", current.ReferenceLink, candidate.ReferenceLink)
	return updates
}

func applySnapshotUpdates(c *model.Conversation, updates map[string]interface{}) {
	for column, v := range updates {
		s, _ := v.(string)
		switch column {
		case "display_name":
			c.DisplayName = s
		case "location":
			c.Location = s
		case "role":
			c.Role = model.ParticipantRole(s)
		case "reference_link":
			c.ReferenceLink = s
		}
	}
}
