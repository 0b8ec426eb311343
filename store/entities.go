package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"fiscalcore/domain"
)

// OrderRecord is the durable row backing one finalized order snapshot.
// The fiscal core does not compute orders — it only ever reads what an
// upstream POS system already finalized and handed it.
type OrderRecord struct {
	ID         uint   `gorm:"primaryKey"`
	TenantID   string `gorm:"uniqueIndex:idx_order_lookup,priority:1"`
	OrderID    string `gorm:"uniqueIndex:idx_order_lookup,priority:2"`
	SnapshotJSON string
	CreatedAt  time.Time
}

func (OrderRecord) TableName() string { return "order_snapshots" }

// ClosingRecord is the durable row backing one finalized end-of-day
// closing snapshot.
type ClosingRecord struct {
	ID           uint   `gorm:"primaryKey"`
	TenantID     string `gorm:"uniqueIndex:idx_closing_lookup,priority:1"`
	ClosingID    string `gorm:"uniqueIndex:idx_closing_lookup,priority:2"`
	SnapshotJSON string
	CreatedAt    time.Time
}

func (ClosingRecord) TableName() string { return "closing_snapshots" }

// EntityRepository stores and retrieves the finalized order/closing
// snapshots the queue worker's EntitySource interface needs. It satisfies
// queue.EntitySource.
type EntityRepository struct {
	db *gorm.DB
}

// NewEntityRepository creates an EntityRepository over db.
func NewEntityRepository(db *gorm.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

// PutOrder durably records a finalized order snapshot, upserting by
// (tenant, order_id) so resubmission of the same snapshot is idempotent
// at ingestion — distinct from the queue's own idempotency-key
// protection, which guards the submission, not the ingest.
func (r *EntityRepository) PutOrder(ctx context.Context, order *domain.OrderSnapshot) error {
	if err := domain.ValidateOrder(order); err != nil {
		return err
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("store: marshal order snapshot: %w", err)
	}
	rec := OrderRecord{TenantID: order.TenantID, OrderID: order.OrderID, SnapshotJSON: string(raw)}
	return r.db.WithContext(ctx).
		Where("tenant_id = ? AND order_id = ?", order.TenantID, order.OrderID).
		Assign(OrderRecord{SnapshotJSON: string(raw)}).
		FirstOrCreate(&rec).Error
}

// PutClosing durably records a finalized closing snapshot.
func (r *EntityRepository) PutClosing(ctx context.Context, closing *domain.ClosingSnapshot) error {
	raw, err := json.Marshal(closing)
	if err != nil {
		return fmt.Errorf("store: marshal closing snapshot: %w", err)
	}
	rec := ClosingRecord{TenantID: closing.TenantID, ClosingID: closing.ClosingID, SnapshotJSON: string(raw)}
	return r.db.WithContext(ctx).
		Where("tenant_id = ? AND closing_id = ?", closing.TenantID, closing.ClosingID).
		Assign(ClosingRecord{SnapshotJSON: string(raw)}).
		FirstOrCreate(&rec).Error
}

// GetOrder implements queue.EntitySource.
func (r *EntityRepository) GetOrder(ctx context.Context, tenantID, orderID string) (*domain.OrderSnapshot, error) {
	var rec OrderRecord
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND order_id = ?", tenantID, orderID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup order %s: %w", orderID, err)
	}
	var order domain.OrderSnapshot
	if err := json.Unmarshal([]byte(rec.SnapshotJSON), &order); err != nil {
		return nil, fmt.Errorf("store: decode order snapshot: %w", err)
	}
	return &order, nil
}

// GetClosing implements queue.EntitySource.
func (r *EntityRepository) GetClosing(ctx context.Context, tenantID, closingID string) (*domain.ClosingSnapshot, error) {
	var rec ClosingRecord
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND closing_id = ?", tenantID, closingID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup closing %s: %w", closingID, err)
	}
	var closing domain.ClosingSnapshot
	if err := json.Unmarshal([]byte(rec.SnapshotJSON), &closing); err != nil {
		return nil, fmt.Errorf("store: decode closing snapshot: %w", err)
	}
	return &closing, nil
}
