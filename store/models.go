// Package store is the durable persistence layer for the fiscal
// transaction core: GORM-backed models and repositories for queue items,
// receipts, audit log entries, and circuit-breaker records, plus a raw
// pgx connection pool for the one query that's cheaper to hand-write than
// to express through the ORM — the signature-chain lookback used by the
// inspect-chain admin command.
package store

import (
	"time"

	"gorm.io/gorm"
)

// QueueStatus is the lifecycle state of a QueueItem.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCancelled  QueueStatus = "cancelled"
)

// EntityKind distinguishes an order from a closing queue item — exactly
// one of OrderID/ClosingID is set.
type EntityKind string

const (
	EntityKindOrder   EntityKind = "order"
	EntityKindClosing EntityKind = "closing"
)

// QueueItem is the mutable record the worker shepherds through pending →
// processing → completed/failed.
type QueueItem struct {
	ID                uint   `gorm:"primaryKey"`
	TenantID          string `gorm:"index:idx_queue_claim,priority:1"`
	EntityKind        EntityKind
	OrderID           string `gorm:"index"`
	ClosingID         string `gorm:"index"`
	IdempotencyKey    string `gorm:"uniqueIndex"`
	CanonicalHash     string
	Status            QueueStatus `gorm:"index:idx_queue_claim,priority:2"`
	RetryCount        int
	MaxRetryCount     int
	ScheduledAt       time.Time `gorm:"index:idx_queue_claim,priority:3"`
	NextRetryAt       *time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	LastErrorAt       *time.Time
	ResponseCode      int
	ErrorMessage      string
	RegulatorTransID  string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (QueueItem) TableName() string { return "queue_items" }

// EntityID returns whichever of OrderID/ClosingID is populated.
func (q QueueItem) EntityID() string {
	if q.EntityKind == EntityKindClosing {
		return q.ClosingID
	}
	return q.OrderID
}

// PrintMode is how a receipt was delivered to the customer.
type PrintMode string

const (
	PrintModePaper       PrintMode = "paper"
	PrintModeElectronic  PrintMode = "electronic"
)

// Receipt is the durable, append-only audit record for one completed
// submission.
type Receipt struct {
	ID                 uint   `gorm:"primaryKey"`
	TenantID           string `gorm:"index:idx_receipt_chain,priority:1"`
	DeviceID           string `gorm:"index:idx_receipt_chain,priority:2"`
	EntityKind         EntityKind
	OrderID            string
	ClosingID          string
	PreviousSignature  string
	CurrentSignature   string
	CanonicalHash      string
	QRString           string
	PrintMode          PrintMode
	FormatTag          string
	RegulatorTransID   string
	Environment        string
	SoftwareID         string
	SoftwareVersion    string
	TransactionTime    time.Time `gorm:"index:idx_receipt_chain,priority:3"`
	Metadata           string    // JSON-encoded free-form metadata
	CreatedAt          time.Time
}

func (Receipt) TableName() string { return "receipts" }

// AuditLogEntry is one per processed queue attempt.
type AuditLogEntry struct {
	ID                  uint   `gorm:"primaryKey"`
	TenantID            string `gorm:"index"`
	OrderID             string
	ClosingID           string
	Operation           string
	RequestMethod       string
	RequestPath         string
	RequestBodyHash     string
	RequestSignature    string
	ResponseStatus      int
	ResponseBodyHash    string
	RegulatorTransID    string
	DurationMS          int64
	ClassifiedErrorCode string
	SanitizedErrorMsg   string
	RegulatorReturnCode string
	CreatedAt           time.Time
}

func (AuditLogEntry) TableName() string { return "audit_log_entries" }

// BreakerState is the circuit-breaker state machine position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerRecord is the per-(environment, tenant, operation) circuit
// breaker row the queue worker consults before processing a claimed item.
type BreakerRecord struct {
	ID                  uint   `gorm:"primaryKey"`
	Environment         string `gorm:"uniqueIndex:idx_breaker_key,priority:1"`
	TenantID            string `gorm:"uniqueIndex:idx_breaker_key,priority:2"`
	Operation           string `gorm:"uniqueIndex:idx_breaker_key,priority:3"`
	State               BreakerState
	ConsecutiveFailures int
	OpenedAt            *time.Time
	UpdatedAt           time.Time
}

func (BreakerRecord) TableName() string { return "breaker_records" }

// Migrate runs GORM auto-migration for every model store owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&QueueItem{},
		&Receipt{},
		&AuditLogEntry{},
		&BreakerRecord{},
		&OrderRecord{},
		&ClosingRecord{},
	)
}
