// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/middleware"
	"github.com/capitalize-ai/leadrelay/internal/model"
	"github.com/capitalize-ai/leadrelay/internal/service"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log.Component("conversation-handler"),
	}
}

// Resolve handles POST /api/v1/conversations/resolve
func (h *ConversationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req model.ResolveConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidatePhone(req.ParticipantPhone); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for field, v := range map[string]string{
		"display_name":   req.Snapshot.DisplayName,
		"location":       req.Snapshot.Location,
		"reference_link": req.Snapshot.ReferenceLink,
	} {
		if err := middleware.ValidateText(field, v, 500); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	h.resolve(w, r, &req)
}

// Webhook handles POST /api/v1/webhooks/whatsapp. Webhook payloads are never trusted
// to seed identity data.
func (h *ConversationHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var in model.InboundMessageWebhook
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidatePhone(in.From); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.resolve(w, r, &model.ResolveConversationRequest{
		ParticipantPhone:  in.From,
		BusinessChannelID: in.PhoneNumber,
		Snapshot:          model.Snapshot{DisplayName: in.ProfileName},
		Provenance:        model.ProvenanceUntrusted,
	})
}

func (h *ConversationHandler) resolve(w http.ResponseWriter, r *http.Request, req *model.ResolveConversationRequest) {
	conv, err := h.service.Resolve(r.Context(), req)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("failed to resolve conversation",
				zap.String("business_channel_id", req.BusinessChannelID),
				zap.String("provenance", string(req.Provenance)),
				zap.Error(err),
			)
		}
		writeServiceError(w, err, "failed to resolve conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Get(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, err, "failed to get conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
