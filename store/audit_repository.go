package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// AuditRepository persists AuditLogEntry rows and answers the admin
// "audit-logs" surface.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository over db.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create persists a new audit log entry.
func (r *AuditRepository) Create(ctx context.Context, entry *AuditLogEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("store: create audit log entry: %w", err)
	}
	return nil
}

// ListByOrder returns up to limit audit entries for orderID, most recent
// first.
func (r *AuditRepository) ListByOrder(ctx context.Context, orderID string, limit int) ([]AuditLogEntry, error) {
	var entries []AuditLogEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("store: list audit log entries for order: %w", err)
	}
	return entries, nil
}

// List returns up to limit audit entries across all orders, most recent
// first.
func (r *AuditRepository) List(ctx context.Context, limit int) ([]AuditLogEntry, error) {
	var entries []AuditLogEntry
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("store: list audit log entries: %w", err)
	}
	return entries, nil
}
