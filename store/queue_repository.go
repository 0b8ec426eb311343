package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrAlreadyQueued is returned when enqueueing an entity that already has
// a non-terminal queue item: re-enqueuing the same (entity, tenant) while
// a prior item exists fails rather than creating a duplicate.
var ErrAlreadyQueued = errors.New("store: entity already queued")

// QueueRepository persists and claims QueueItem rows.
type QueueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a QueueRepository over db.
func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// EnqueueOrder creates a pending queue item for orderID/tenantID, or
// ErrAlreadyQueued if a non-terminal item already exists for the pair.
func (r *QueueRepository) EnqueueOrder(ctx context.Context, tenantID, orderID string) (*QueueItem, error) {
	return r.enqueue(ctx, tenantID, EntityKindOrder, orderID, "")
}

// EnqueueClosing creates a pending queue item for closingID/tenantID.
func (r *QueueRepository) EnqueueClosing(ctx context.Context, tenantID, closingID string) (*QueueItem, error) {
	return r.enqueue(ctx, tenantID, EntityKindClosing, "", closingID)
}

func (r *QueueRepository) enqueue(ctx context.Context, tenantID string, kind EntityKind, orderID, closingID string) (*QueueItem, error) {
	var existing QueueItem
	q := r.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_kind = ?", tenantID, kind).
		Where("status NOT IN ?", []QueueStatus{QueueStatusCompleted, QueueStatusFailed, QueueStatusCancelled})
	if kind == EntityKindOrder {
		q = q.Where("order_id = ?", orderID)
	} else {
		q = q.Where("closing_id = ?", closingID)
	}
	err := q.First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("%w: tenant=%s entity=%s", ErrAlreadyQueued, tenantID, entityIDFor(kind, orderID, closingID))
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("store: check existing queue item: %w", err)
	}

	now := time.Now()
	item := &QueueItem{
		TenantID:   tenantID,
		EntityKind: kind,
		OrderID:    orderID,
		ClosingID:  closingID,
		// Generated per item: idempotency_key carries a unique index.
		IdempotencyKey: fmt.Sprintf("enqueue:%s:%s:%s:%d", tenantID, kind, entityIDFor(kind, orderID, closingID), now.UnixNano()),
		Status:         QueueStatusPending,
		MaxRetryCount:  10,
		ScheduledAt:    now,
	}
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, fmt.Errorf("store: create queue item: %w", err)
	}
	return item, nil
}

func entityIDFor(kind EntityKind, orderID, closingID string) string {
	if kind == EntityKindClosing {
		return closingID
	}
	return orderID
}

// ClaimBatch selects up to limit eligible pending items (scheduled_at or
// next_retry_at due, ordered by scheduled_at ascending) and atomically
// transitions each to processing, setting started_at. Each claim is a
// conditional update that only matches a row still pending, so two
// concurrent workers never claim the same row; a candidate another worker
// claimed between the select and the update is skipped.
func (r *QueueRepository) ClaimBatch(ctx context.Context, limit int) ([]*QueueItem, error) {
	now := time.Now()

	var candidates []QueueItem
	err := r.db.WithContext(ctx).
		Where("status = ?", QueueStatusPending).
		Where("scheduled_at <= ? OR (next_retry_at IS NOT NULL AND next_retry_at <= ?)", now, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("store: select claim candidates: %w", err)
	}

	claimed := make([]*QueueItem, 0, len(candidates))
	for i := range candidates {
		item := &candidates[i]
		res := r.db.WithContext(ctx).Model(&QueueItem{}).
			Where("id = ? AND status = ?", item.ID, QueueStatusPending).
			Updates(map[string]interface{}{"status": QueueStatusProcessing, "started_at": now})
		if res.Error != nil {
			return nil, fmt.Errorf("store: claim item %d: %w", item.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Another worker claimed it first between select and update.
			continue
		}
		item.Status = QueueStatusProcessing
		item.StartedAt = &now
		claimed = append(claimed, item)
	}
	return claimed, nil
}

// MarkCompleted transitions item to completed, recording the regulator
// transaction id and response code.
func (r *QueueRepository) MarkCompleted(ctx context.Context, id uint, regulatorTransID string, responseCode int) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&QueueItem{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":             QueueStatusCompleted,
		"completed_at":       now,
		"regulator_trans_id": regulatorTransID,
		"response_code":      responseCode,
	}).Error
}

// MarkRetryable transitions item back to pending with retry_count++ and
// next_retry_at set backoffMS milliseconds in the future, or to failed if
// the retry budget is exhausted.
func (r *QueueRepository) MarkRetryable(ctx context.Context, item *QueueItem, errorMessage string, responseCode int, backoffMS int64) error {
	now := time.Now()
	nextRetry := now.Add(time.Duration(backoffMS) * time.Millisecond)
	newRetryCount := item.RetryCount + 1

	updates := map[string]interface{}{
		"retry_count":   newRetryCount,
		"last_error_at": now,
		"error_message": errorMessage,
		"response_code": responseCode,
	}
	if newRetryCount >= item.MaxRetryCount {
		updates["status"] = QueueStatusFailed
		updates["completed_at"] = now
	} else {
		updates["status"] = QueueStatusPending
		updates["next_retry_at"] = nextRetry
	}
	return r.db.WithContext(ctx).Model(&QueueItem{}).Where("id = ?", item.ID).Updates(updates).Error
}

// MarkFailed transitions item directly to failed for a non-retryable
// classification.
func (r *QueueRepository) MarkFailed(ctx context.Context, id uint, errorMessage string, responseCode int) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&QueueItem{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        QueueStatusFailed,
		"completed_at":  now,
		"last_error_at": now,
		"error_message": errorMessage,
		"response_code": responseCode,
	}).Error
}

// ResetToPending forces a stuck processing item back to pending,
// clearing started_at so it becomes immediately claimable again. This is
// an administrative escape hatch for items whose worker crashed mid-claim
// and never reached a terminal or retryable state; it does not touch
// retry_count or max_retry_count.
func (r *QueueRepository) ResetToPending(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&QueueItem{}).
		Where("id = ? AND status = ?", id, QueueStatusProcessing).
		Updates(map[string]interface{}{"status": QueueStatusPending, "started_at": nil})
	if res.Error != nil {
		return fmt.Errorf("store: reset item %d to pending: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: item %d is not in processing state", id)
	}
	return nil
}

// Get returns the queue item by id.
func (r *QueueRepository) Get(ctx context.Context, id uint) (*QueueItem, error) {
	var item QueueItem
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// StatusCounts aggregates counts per terminal/non-terminal state, backing
// the admin "queue status" surface.
func (r *QueueRepository) StatusCounts(ctx context.Context) (map[QueueStatus]int64, error) {
	type row struct {
		Status QueueStatus
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&QueueItem{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: aggregate queue status: %w", err)
	}
	out := make(map[QueueStatus]int64, len(rows))
	for _, rr := range rows {
		out[rr.Status] = rr.Count
	}
	return out, nil
}
