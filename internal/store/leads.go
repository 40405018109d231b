package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/capitalize-ai/leadrelay/internal/model"
)

// LeadFilter narrows a lead listing.
type LeadFilter struct {
	TenantID    string
	Disposition string
	AreaSlug    string
	Limit       int
	Offset      int
}

// LeadStore persists leads.
type LeadStore struct {
	db *gorm.DB
}

// NewLeadStore creates a lead store.
func NewLeadStore(db *gorm.DB) *LeadStore {
	return &LeadStore{db: db}
}

// Create inserts a lead.
func (s *LeadStore) Create(ctx context.Context, lead *model.Lead) error {
	if err := s.db.WithContext(ctx).Create(lead).Error; err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	return nil
}

// Get returns the lead with id owned by tenantID.
func (s *LeadStore) Get(ctx context.Context, tenantID, id string) (*model.Lead, error) {
	var out model.Lead
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Take(&out).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &out, nil
}

// List returns leads matching f, newest first, and the total number of matches.
func (s *LeadStore) List(ctx context.Context, f LeadFilter) ([]model.Lead, int64, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	q := s.db.WithContext(ctx).Model(&model.Lead{}).Where("tenant_id = ?", f.TenantID)
	if f.Disposition != "" {
		q = q.Where("disposition = ?", f.Disposition)
	}
	if f.AreaSlug != "" {
		q = q.Where("area_slug = ?", f.AreaSlug)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count leads: %w", err)
	}
	var out []model.Lead
	if err := q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("list leads: %w", err)
	}
	return out, total, nil
}

// UpdateField sets a single editable column of a lead and returns the updated record.
func (s *LeadStore) UpdateField(ctx context.Context, tenantID, id string, field model.LeadField, value any) (*model.Lead, error) {
	if !field.Known() {
		return nil, fmt.Errorf("field %q is not editable", field)
	}
	res := s.db.WithContext(ctx).
		Model(&model.Lead{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{
			string(field): value,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update lead %s: %w", field, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, tenantID, id)
}

// Ping checks the database connection.
func (s *LeadStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
