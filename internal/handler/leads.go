package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/middleware"
	"github.com/capitalize-ai/leadrelay/internal/model"
	"github.com/capitalize-ai/leadrelay/internal/service"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

// LeadHandler handles lead endpoints.
type LeadHandler struct {
	service *service.LeadService
	logger  *logger.Logger
}

// NewLeadHandler creates a new lead handler.
func NewLeadHandler(svc *service.LeadService, log *logger.Logger) *LeadHandler {
	return &LeadHandler{
		service: svc,
		logger:  log.Component("lead-handler"),
	}
}

// Create handles POST /api/v1/leads
func (h *LeadHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	var req model.CreateLeadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	for field, v := range map[string]string{"name": req.Name, "area": req.Area} {
		if err := middleware.ValidateText(field, v, 200); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Phone != "" {
		if err := middleware.ValidatePhone(req.Phone); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	lead, err := h.service.Create(ctx, tenantID, &req)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("failed to create lead", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		writeServiceError(w, err, "failed to create lead")
		return
	}

	writeJSON(w, http.StatusCreated, lead)
}

// List handles GET /api/v1/leads
func (h *LeadHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	q := r.URL.Query()

	limit := queryInt(r, "limit", 50, 1, 200)
	offset := queryInt(r, "offset", 0, 0, 1<<30)

	resp, err := h.service.List(ctx, tenantID, q.Get("disposition"), q.Get("area"), limit, offset)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("failed to list leads", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		writeServiceError(w, err, "failed to list leads")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/leads/:id
func (h *LeadHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	leadID := chi.URLParam(r, "id")

	if err := middleware.ValidateLeadID(leadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	lead, err := h.service.Get(ctx, tenantID, leadID)
	if err != nil {
		writeServiceError(w, err, "failed to get lead")
		return
	}

	writeJSON(w, http.StatusOK, lead)
}

// UpdateField handles PATCH /api/v1/leads/:id/fields/:field
func (h *LeadHandler) UpdateField(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	leadID := chi.URLParam(r, "id")
	field := chi.URLParam(r, "field")

	if err := middleware.ValidateLeadID(leadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.UpdateFieldRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lead, err := h.service.UpdateField(ctx, tenantID, leadID, field, req.Value)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("failed to update lead field",
				zap.String("lead_id", leadID),
				zap.String("field", field),
				zap.Error(err),
			)
		}
		writeServiceError(w, err, "failed to update lead")
		return
	}

	writeJSON(w, http.StatusOK, lead)
}

// MyAreas handles GET /api/v1/me/areas
func (h *LeadHandler) MyAreas(w http.ResponseWriter, r *http.Request) {
	areas := middleware.GetAreas(r.Context())
	if areas == nil {
		areas = []string{}
	}
	writeJSON(w, http.StatusOK, &model.AreasResponse{Areas: areas})
}
