package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"fiscalcore/canon"
)

// ReceiptRepository persists Receipt rows and answers the signature-chain
// lookback query the queue worker consults at step 4 of processing.
type ReceiptRepository struct {
	db *gorm.DB
}

// NewReceiptRepository creates a ReceiptRepository over db.
func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// PreviousSignature returns the current_signature of the most recent
// completed receipt for (tenantID, deviceID), ordered by transaction
// timestamp descending, or the 88-char sentinel if none exists.
func (r *ReceiptRepository) PreviousSignature(ctx context.Context, tenantID, deviceID string) (string, error) {
	var rec Receipt
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND device_id = ?", tenantID, deviceID).
		Order("transaction_time DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return canon.PreviousSentinel, nil
	}
	if err != nil {
		return "", fmt.Errorf("store: lookup previous signature: %w", err)
	}
	return rec.CurrentSignature, nil
}

// Create persists a new receipt row.
func (r *ReceiptRepository) Create(ctx context.Context, receipt *Receipt) error {
	if err := r.db.WithContext(ctx).Create(receipt).Error; err != nil {
		return fmt.Errorf("store: create receipt: %w", err)
	}
	return nil
}
