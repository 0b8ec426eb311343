package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RawDB wraps a pgx connection pool for the handful of queries cheaper to
// hand-write than express through GORM.
type RawDB struct {
	pool *pgxpool.Pool
}

// NewRawDB opens a pgx pool against connString.
func NewRawDB(ctx context.Context, connString string) (*RawDB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("store: open pgx pool: %w", err)
	}
	return &RawDB{pool: pool}, nil
}

// Close releases the pool's connections.
func (db *RawDB) Close() {
	db.pool.Close()
}

// Pool returns the underlying pgxpool.Pool for advanced operations.
func (db *RawDB) Pool() *pgxpool.Pool {
	return db.pool
}

// PreviousSignatureLookback runs the signature-chain lookback as a single
// hand-written query rather than through GORM: the most recent completed
// receipt's current_signature for (tenant, device). Returns pgx.ErrNoRows
// if none exists — callers substitute the sentinel in that case.
func (db *RawDB) PreviousSignatureLookback(ctx context.Context, tenantID, deviceID string) (string, error) {
	const query = `
		SELECT current_signature
		FROM receipts
		WHERE tenant_id = $1 AND device_id = $2
		ORDER BY transaction_time DESC
		LIMIT 1
	`
	row := db.pool.QueryRow(ctx, query, tenantID, deviceID)
	var sig string
	if err := row.Scan(&sig); err != nil {
		if err == pgx.ErrNoRows {
			return "", err
		}
		return "", fmt.Errorf("store: previous signature lookback: %w", err)
	}
	return sig, nil
}
