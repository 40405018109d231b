package dashboard

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/leadrelay/internal/cycle"
	"github.com/capitalize-ai/leadrelay/internal/model"
	"github.com/capitalize-ai/leadrelay/internal/optimistic"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

// FieldWriter persists a single lead field.
type FieldWriter interface {
	UpdateField(ctx context.Context, leadID string, field model.LeadField, value any) error
}

// Editor creates the optimistic controllers for the editable fields on screen and stops
// them together when the view goes away.
type Editor struct {
	writer FieldWriter
	logger *logger.Logger
	group  *optimistic.Group
	opts   []optimistic.Option
}

// NewEditor creates an editor persisting through w. opts apply to every controller.
func NewEditor(w FieldWriter, log *logger.Logger, opts ...optimistic.Option) *Editor {
	log = log.Component("editor")
	return &Editor{
		writer: w,
		logger: log,
		group:  optimistic.NewGroup(),
		opts:   append([]optimistic.Option{optimistic.WithLogger(log)}, opts...),
	}
}

// Numeric returns the controller for an integer field of lead. apply receives every
// displayed value, including rollbacks.
func (e *Editor) Numeric(lead model.Lead, field model.LeadField, apply func(int)) (*optimistic.Controller[int], error) {
	if !field.IsNumeric() {
		return nil, fmt.Errorf("field %q is not numeric", field)
	}
	key := optimistic.Key{EntityID: lead.ID, Field: string(field)}
	persist := func(ctx context.Context, v int) error {
		return e.writer.UpdateField(ctx, lead.ID, field, v)
	}
	c := optimistic.New(key, IntField(lead, field), apply, persist, e.opts...)
	e.group.Add(c)
	return c, nil
}

// Status returns a cycling status field of lead.
func (e *Editor) Status(lead model.Lead, field model.LeadField, apply func(string)) (*cycle.Field, error) {
	var m *cycle.Machine
	switch field {
	case model.FieldMessageStatus:
		m = cycle.MessageStatus
	case model.FieldSalesPriority:
		m = cycle.SalesPriority
	default:
		return nil, fmt.Errorf("field %q is not a status field", field)
	}
	key := optimistic.Key{EntityID: lead.ID, Field: string(field)}
	persist := func(ctx context.Context, v string) error {
		return e.writer.UpdateField(ctx, lead.ID, field, v)
	}
	initial := StringField(lead, field)
	if initial == "" {
		initial = m.Initial()
	}
	c := optimistic.New(key, initial, apply, persist, e.opts...)
	e.group.Add(c)
	return cycle.NewField(m, c), nil
}

// Release stops the controllers of one lead, cancelling writes that have not been sent.
func (e *Editor) Release(leadID string, fields ...model.LeadField) {
	for _, f := range fields {
		e.group.Remove(optimistic.Key{EntityID: leadID, Field: string(f)})
	}
}

// Stop stops every controller created by the editor.
func (e *Editor) Stop() {
	e.group.Stop()
}

// IntField reads an integer field of lead.
func IntField(lead model.Lead, f model.LeadField) int {
	switch f {
	case model.FieldGuestCount:
		return lead.GuestCount
	case model.FieldBedCount:
		return lead.BedCount
	case model.FieldMinBudget:
		return lead.MinBudget
	case model.FieldMaxBudget:
		return lead.MaxBudget
	case model.FieldPropertiesShown:
		return lead.PropertiesShown
	}
	return 0
}

// StringField reads a status field of lead.
func StringField(lead model.Lead, f model.LeadField) string {
	switch f {
	case model.FieldMessageStatus:
		return lead.MessageStatus
	case model.FieldSalesPriority:
		return lead.SalesPriority
	}
	return ""
}
