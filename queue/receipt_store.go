package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"fiscalcore/store"
)

// ReceiptTarget selects where persisted receipts land.
type ReceiptTarget string

const (
	ReceiptTargetFiles   ReceiptTarget = "files"
	ReceiptTargetStorage ReceiptTarget = "storage"
	ReceiptTargetNone    ReceiptTarget = "none"
)

// ReceiptInput is what the worker has in hand at step 13 of the
// processing pipeline to persist a completed receipt.
type ReceiptInput struct {
	TenantID          string
	DeviceID          string
	EntityKind        store.EntityKind
	OrderID           string
	ClosingID         string
	PreviousSignature string
	CurrentSignature  string
	CanonicalHash     string
	QRString          string
	RegulatorTransID  string
	Environment       string
	TransactionTime   time.Time
}

// ReceiptStore implements the append-only persist(target, input)
// contract: files, durable storage (gated behind an explicit
// allow-writes flag), or a no-op.
type ReceiptStore struct {
	target           ReceiptTarget
	receiptsDir      string
	storageAllowed   bool
	receiptRepo      *store.ReceiptRepository
}

// NewReceiptStore creates a ReceiptStore targeting target.
func NewReceiptStore(target ReceiptTarget, receiptsDir string, storageAllowed bool, receiptRepo *store.ReceiptRepository) *ReceiptStore {
	return &ReceiptStore{
		target:         target,
		receiptsDir:    receiptsDir,
		storageAllowed: storageAllowed,
		receiptRepo:    receiptRepo,
	}
}

// Persist writes input per the configured target. The store is
// append-only: it never updates an existing receipt for the same entity.
func (s *ReceiptStore) Persist(ctx context.Context, input ReceiptInput) error {
	switch s.target {
	case ReceiptTargetNone:
		return nil
	case ReceiptTargetFiles:
		return s.persistFile(ctx, input)
	case ReceiptTargetStorage:
		return s.persistStorage(ctx, input)
	default:
		return fmt.Errorf("queue: unknown receipt target %q", s.target)
	}
}

// createRow inserts the queryable receipts-table row that step 4 of every
// later pipeline run depends on (PreviousSignature). The files target
// writes this row too, not only the storage target, so the signature
// chain holds under the default configuration and not only when the
// storage target's allow-write flag is set. The none target writes no
// row.
func (s *ReceiptStore) createRow(ctx context.Context, input ReceiptInput) error {
	if s.receiptRepo == nil {
		return nil
	}
	return s.receiptRepo.Create(ctx, &store.Receipt{
		TenantID:          input.TenantID,
		DeviceID:          input.DeviceID,
		EntityKind:        input.EntityKind,
		OrderID:           input.OrderID,
		ClosingID:         input.ClosingID,
		PreviousSignature: input.PreviousSignature,
		CurrentSignature:  input.CurrentSignature,
		CanonicalHash:     input.CanonicalHash,
		QRString:          input.QRString,
		RegulatorTransID:  input.RegulatorTransID,
		Environment:       input.Environment,
		TransactionTime:   input.TransactionTime,
	})
}

func (s *ReceiptStore) persistFile(ctx context.Context, input ReceiptInput) error {
	if err := os.MkdirAll(s.receiptsDir, 0o755); err != nil {
		return fmt.Errorf("queue: create receipts directory: %w", err)
	}

	entityID := input.OrderID
	if input.EntityKind == store.EntityKindClosing {
		entityID = input.ClosingID
	}
	filename := fmt.Sprintf("%s-%s.json", entityID, strconv.FormatInt(input.TransactionTime.Unix(), 10))
	path := filepath.Join(s.receiptsDir, filename)

	doc := map[string]interface{}{
		"tenant_id":          input.TenantID,
		"device_id":          input.DeviceID,
		"entity_id":          entityID,
		"previous_signature": input.PreviousSignature,
		"current_signature":  input.CurrentSignature,
		"canonical_hash":     input.CanonicalHash,
		"qr_string":          input.QRString,
		"regulator_trans_id": input.RegulatorTransID,
		"environment":        input.Environment,
		"timestamp":          normalizeTimestamp(input.TransactionTime),
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal receipt document: %w", err)
	}

	// O_EXCL enforces append-only: a retry that races to write the same
	// filename fails loudly instead of silently overwriting a prior receipt.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("queue: receipt file %s already exists, store is append-only", path)
		}
		return fmt.Errorf("queue: create receipt file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(body); err != nil {
		return fmt.Errorf("queue: write receipt file: %w", err)
	}
	return s.createRow(ctx, input)
}

func (s *ReceiptStore) persistStorage(ctx context.Context, input ReceiptInput) error {
	if !s.storageAllowed {
		return fmt.Errorf("queue: storage receipt writes are disabled by default; set the allow-write flag")
	}
	return s.createRow(ctx, input)
}

// normalizeTimestamp renders t as ISO-8601 in UTC with millisecond
// precision and a Z suffix (".000Z" for a whole-second time).
func normalizeTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
