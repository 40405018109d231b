// Package service provides business logic for lead intake and conversation identity.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/broker"
	"github.com/capitalize-ai/leadrelay/internal/bus"
	"github.com/capitalize-ai/leadrelay/internal/cycle"
	"github.com/capitalize-ai/leadrelay/internal/model"
	"github.com/capitalize-ai/leadrelay/internal/room"
	"github.com/capitalize-ai/leadrelay/internal/store"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
	"github.com/capitalize-ai/leadrelay/pkg/metrics"
	"github.com/capitalize-ai/leadrelay/pkg/tracing"
)

var (
	// ErrInvalidField is returned for an unknown or non-editable lead field.
	ErrInvalidField = errors.New("invalid field")
	// ErrInvalidValue is returned when a field value has the wrong type or is out of range.
	ErrInvalidValue = errors.New("invalid value")
)

// LeadRepository stores leads.
type LeadRepository interface {
	Create(ctx context.Context, lead *model.Lead) error
	Get(ctx context.Context, tenantID, id string) (*model.Lead, error)
	List(ctx context.Context, f store.LeadFilter) ([]model.Lead, int64, error)
	UpdateField(ctx context.Context, tenantID, id string, field model.LeadField, value any) (*model.Lead, error)
}

// LeadService handles lead intake and field edits.
type LeadService struct {
	leads  LeadRepository
	bus    bus.Bus
	logger *logger.Logger
	tracer trace.Tracer
}

// NewLeadService creates a new lead service.
func NewLeadService(leads LeadRepository, b bus.Bus, log *logger.Logger) *LeadService {
	return &LeadService{
		leads:  leads,
		bus:    b,
		logger: log.Component("leads"),
		tracer: tracing.Tracer("leadrelay/service"),
	}
}

// Create stores a new lead and publishes it to the room of its area and disposition.
// A publish failure is logged; the lead remains created.
func (s *LeadService) Create(ctx context.Context, tenantID string, req *model.CreateLeadRequest) (*model.Lead, error) {
	ctx, span := s.tracer.Start(ctx, "LeadService.Create")
	defer span.End()

	disposition, err := room.ParseDisposition(req.Disposition)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %q", err, req.Disposition)
	}

	area := strings.TrimSpace(req.Area)
	k := room.Normalize(area, string(disposition))
	now := time.Now().UTC()
	lead := &model.Lead{
		ID:            uuid.Must(uuid.NewV7()).String(),
		TenantID:      tenantID,
		Name:          strings.TrimSpace(req.Name),
		Phone:         strings.TrimSpace(req.Phone),
		Area:          area,
		AreaSlug:      k.Area,
		Disposition:   string(disposition),
		GuestCount:    req.GuestCount,
		BedCount:      req.BedCount,
		MinBudget:     req.MinBudget,
		MaxBudget:     req.MaxBudget,
		MessageStatus: cycle.MessageStatus.Initial(),
		SalesPriority: cycle.SalesPriority.Initial(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	span.SetAttributes(
		attribute.String("lead.id", lead.ID),
		attribute.String("lead.room", k.String()),
	)

	if err := s.leads.Create(ctx, lead); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		return nil, err
	}
	metrics.LeadsCreated.WithLabelValues(tenantID, lead.Disposition).Inc()

	s.publish(ctx, tenantID, k, lead)

	s.logger.Info("lead created",
		zap.String("lead_id", lead.ID),
		zap.String("tenant_id", tenantID),
		zap.Stringer("room", k),
	)
	return lead, nil
}

func (s *LeadService) publish(ctx context.Context, tenantID string, k room.Key, lead *model.Lead) {
	msg, err := bus.NewMessage(tenantID, k, broker.KindLeadCreated, lead)
	if err == nil {
		err = s.bus.Publish(ctx, msg)
	}
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		s.logger.Error("failed to publish lead",
			zap.String("lead_id", lead.ID),
			zap.Stringer("room", k),
			zap.Error(err),
		)
	}
}

// Get returns a lead of the tenant.
func (s *LeadService) Get(ctx context.Context, tenantID, id string) (*model.Lead, error) {
	return s.leads.Get(ctx, tenantID, id)
}

// List returns the tenant's leads, optionally narrowed by disposition and area.
func (s *LeadService) List(ctx context.Context, tenantID, disposition, area string, limit, offset int) (*model.ListLeadsResponse, error) {
	f := store.LeadFilter{TenantID: tenantID, Limit: limit, Offset: offset}
	if disposition != "" {
		d, err := room.ParseDisposition(disposition)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, disposition)
		}
		f.Disposition = string(d)
	}
	if strings.TrimSpace(area) != "" {
		f.AreaSlug = room.Slug(area)
	}

	leads, total, err := s.leads.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	return &model.ListLeadsResponse{
		Leads:   leads,
		Total:   int(total),
		HasMore: int64(offset+len(leads)) < total,
	}, nil
}

// UpdateField persists a single field edit. It either applies the whole edit or fails.
func (s *LeadService) UpdateField(ctx context.Context, tenantID, id, field string, raw any) (*model.Lead, error) {
	ctx, span := s.tracer.Start(ctx, "LeadService.UpdateField",
		trace.WithAttributes(attribute.String("lead.id", id), attribute.String("lead.field", field)))
	defer span.End()

	f := model.LeadField(field)
	if !f.Known() {
		metrics.RecordFieldUpdate("unknown", "invalid")
		return nil, fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	value, err := coerceField(f, raw)
	if err != nil {
		metrics.RecordFieldUpdate(field, "invalid")
		return nil, err
	}

	lead, err := s.leads.UpdateField(ctx, tenantID, id, f, value)
	if err != nil {
		outcome := "error"
		if errors.Is(err, store.ErrNotFound) {
			outcome = "not_found"
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, "update failed")
		}
		metrics.RecordFieldUpdate(field, outcome)
		return nil, err
	}
	metrics.RecordFieldUpdate(field, "ok")

	s.logger.Debug("lead field updated",
		zap.String("lead_id", id),
		zap.String("field", field),
		zap.Any("value", value),
	)
	return lead, nil
}

// coerceField checks raw against the field's type. Numbers arrive from JSON as float64.
func coerceField(f model.LeadField, raw any) (any, error) {
	if f.IsNumeric() {
		var n float64
		switch v := raw.(type) {
		case float64:
			n = v
		case int:
			n = float64(v)
		default:
			return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidValue, f)
		}
		if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidValue, f)
		}
		return int(n), nil
	}

	v, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidValue, f)
	}
	m := cycle.MessageStatus
	if f == model.FieldSalesPriority {
		m = cycle.SalesPriority
	}
	if !m.Valid(v) {
		return nil, fmt.Errorf("%w: %q is not one of %v", ErrInvalidValue, v, m.States())
	}
	return v, nil
}
