package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalcore/store"
)

func TestReceiptStore_PersistFile_WritesDocument(t *testing.T) {
	dir := t.TempDir()
	s := NewReceiptStore(ReceiptTargetFiles, dir, false, nil)

	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	err := s.Persist(context.Background(), ReceiptInput{
		TenantID:         "tenant-1",
		DeviceID:         "device-1",
		EntityKind:       store.EntityKindOrder,
		OrderID:          "order-1",
		CurrentSignature: "sig",
		TransactionTime:  ts,
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "order-1")
}

func TestReceiptStore_PersistFile_RejectsDuplicateWrite(t *testing.T) {
	dir := t.TempDir()
	s := NewReceiptStore(ReceiptTargetFiles, dir, false, nil)
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	input := ReceiptInput{TenantID: "tenant-1", OrderID: "order-1", EntityKind: store.EntityKindOrder, TransactionTime: ts}

	require.NoError(t, s.Persist(context.Background(), input))
	err := s.Persist(context.Background(), input)
	assert.Error(t, err)
}

func TestReceiptStore_None_IsNoop(t *testing.T) {
	s := NewReceiptStore(ReceiptTargetNone, "", false, nil)
	err := s.Persist(context.Background(), ReceiptInput{})
	assert.NoError(t, err)
}

func TestReceiptStore_Storage_DisabledByDefault(t *testing.T) {
	s := NewReceiptStore(ReceiptTargetStorage, "", false, nil)
	err := s.Persist(context.Background(), ReceiptInput{})
	assert.Error(t, err)
}

func TestNormalizeTimestamp_FormatsISO8601(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "2026-03-04T05:06:07.000Z", normalizeTimestamp(ts))
}

func TestReceiptStore_PersistFile_UsesClosingIDWhenClosing(t *testing.T) {
	dir := t.TempDir()
	s := NewReceiptStore(ReceiptTargetFiles, dir, false, nil)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Persist(context.Background(), ReceiptInput{
		EntityKind:      store.EntityKindClosing,
		ClosingID:       "closing-1",
		TransactionTime: ts,
	}))

	matches, err := filepath.Glob(filepath.Join(dir, "closing-1-*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
