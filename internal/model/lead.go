// Package model defines data structures for the lead relay.
package model

import (
	"time"
)

// Lead is a lead record as created by intake.
type Lead struct {
	ID          string `json:"id" gorm:"type:text;primaryKey"`
	TenantID    string `json:"tenant_id" gorm:"type:text;index"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Area        string `json:"area"`
	AreaSlug    string `json:"area_slug" gorm:"index"`
	Disposition string `json:"disposition" gorm:"index"`

	// Editable fields
	GuestCount      int    `json:"guest_count"`
	BedCount        int    `json:"bed_count"`
	MinBudget       int    `json:"min_budget"`
	MaxBudget       int    `json:"max_budget"`
	PropertiesShown int    `json:"properties_shown"`
	MessageStatus   string `json:"message_status"`
	SalesPriority   string `json:"sales_priority"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LeadField names an editable lead field by its wire name.
type LeadField string

const (
	FieldGuestCount      LeadField = "guest_count"
	FieldBedCount        LeadField = "bed_count"
	FieldMinBudget       LeadField = "min_budget"
	FieldMaxBudget       LeadField = "max_budget"
	FieldPropertiesShown LeadField = "properties_shown"
	FieldMessageStatus   LeadField = "message_status"
	FieldSalesPriority   LeadField = "sales_priority"
)

// IsNumeric reports whether f holds an integer value.
func (f LeadField) IsNumeric() bool {
	switch f {
	case FieldGuestCount, FieldBedCount, FieldMinBudget, FieldMaxBudget, FieldPropertiesShown:
		return true
	}
	return false
}

// Known reports whether f is an editable field.
func (f LeadField) Known() bool {
	return f.IsNumeric() || f == FieldMessageStatus || f == FieldSalesPriority
}

// CreateLeadRequest is the intake request for a new lead.
type CreateLeadRequest struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Area        string `json:"area"`
	Disposition string `json:"disposition"`
	GuestCount  int    `json:"guest_count,omitempty"`
	BedCount    int    `json:"bed_count,omitempty"`
	MinBudget   int    `json:"min_budget,omitempty"`
	MaxBudget   int    `json:"max_budget,omitempty"`
}

// UpdateFieldRequest carries the new value of a single editable field.
type UpdateFieldRequest struct {
	Value any `json:"value"`
}

// ListLeadsResponse is the response for listing leads.
type ListLeadsResponse struct {
	Leads   []Lead `json:"leads"`
	Total   int    `json:"total"`
	HasMore bool   `json:"has_more"`
}

// AreasResponse lists the areas assigned to an operator.
type AreasResponse struct {
	Areas []string `json:"areas"`
}
