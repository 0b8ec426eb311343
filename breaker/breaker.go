// Package breaker implements the per-(environment, tenant, operation)
// circuit breaker the queue worker consults for each claimed item before
// processing it.
// State lives in Postgres via GORM; an optional Redis write-through
// cache avoids a database round trip on the hot path when configured.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"fiscalcore/store"
)

// Cooldown is the fixed interval an open breaker must wait before a
// half-open trial.
const Cooldown = 60 * time.Second

// FailureThreshold is the number of consecutive TEMP_UNAVAILABLE
// classifications that trips the breaker open.
const FailureThreshold = 5

// Decision is what the worker should do with the claimed item it is about
// to process for this (env, tenant, operation) triple.
type Decision string

const (
	DecisionProceed Decision = "proceed"
	DecisionSkip    Decision = "skip"
)

// Breaker reads and updates circuit-breaker state.
type Breaker struct {
	db    *gorm.DB
	cache *redis.Client // nil disables the cache
}

// New creates a Breaker backed by db, optionally write-through caching to
// cache (pass nil to disable).
func New(db *gorm.DB, cache *redis.Client) *Breaker {
	return &Breaker{db: db, cache: cache}
}

func cacheKey(environment, tenantID, operation string) string {
	return fmt.Sprintf("breaker:%s:%s:%s", environment, tenantID, operation)
}

// Evaluate reads (or creates, defaulting to closed) the breaker record
// for (environment, tenantID, operation) and decides whether the worker
// may proceed, applying the open→half-open reset when the cooldown has
// elapsed.
func (b *Breaker) Evaluate(ctx context.Context, environment, tenantID, operation string) (Decision, error) {
	if state, ok := b.readCache(ctx, environment, tenantID, operation); ok {
		switch state {
		case store.BreakerClosed:
			return DecisionProceed, nil
		case store.BreakerOpen:
			// The cache entry's TTL equals Cooldown (set in cacheState/
			// save), so a live "open" hit is equivalent to "still within
			// cooldown" without re-checking OpenedAt against the clock.
			return DecisionSkip, nil
		}
	}

	rec, err := b.getOrCreate(ctx, environment, tenantID, operation)
	if err != nil {
		return DecisionSkip, err
	}

	switch rec.State {
	case store.BreakerClosed:
		b.cacheState(ctx, rec)
		return DecisionProceed, nil
	case store.BreakerOpen:
		if rec.OpenedAt == nil || time.Since(*rec.OpenedAt) >= Cooldown {
			if err := b.reset(ctx, rec); err != nil {
				return DecisionSkip, err
			}
			return DecisionProceed, nil
		}
		b.cacheState(ctx, rec)
		return DecisionSkip, nil
	default:
		return DecisionProceed, nil
	}
}

// readCache reports the cached state for (environment, tenantID,
// operation), if caching is enabled and a live entry exists. The durable
// record remains the source of truth; this is purely a hot-path read
// that avoids a database round trip between writes.
func (b *Breaker) readCache(ctx context.Context, environment, tenantID, operation string) (store.BreakerState, bool) {
	if b.cache == nil {
		return "", false
	}
	val, err := b.cache.Get(ctx, cacheKey(environment, tenantID, operation)).Result()
	if err != nil {
		return "", false
	}
	return store.BreakerState(val), true
}

func (b *Breaker) cacheState(ctx context.Context, rec *store.BreakerRecord) {
	if b.cache == nil {
		return
	}
	ttl := Cooldown
	if rec.State == store.BreakerOpen && rec.OpenedAt != nil {
		// An open entry may only live for what is left of the cooldown.
		ttl = Cooldown - time.Since(*rec.OpenedAt)
		if ttl <= 0 {
			return
		}
	}
	key := cacheKey(rec.Environment, rec.TenantID, rec.Operation)
	b.cache.Set(ctx, key, string(rec.State), ttl)
}

// RecordSuccess resets consecutive_failures to 0 and closes the breaker
// on any OK classification.
func (b *Breaker) RecordSuccess(ctx context.Context, environment, tenantID, operation string) error {
	return b.update(ctx, environment, tenantID, operation, func(rec *store.BreakerRecord) {
		rec.ConsecutiveFailures = 0
		rec.State = store.BreakerClosed
		rec.OpenedAt = nil
	})
}

// RecordFailure increments consecutive_failures and trips the breaker
// open once the threshold is reached.
func (b *Breaker) RecordFailure(ctx context.Context, environment, tenantID, operation string) error {
	return b.update(ctx, environment, tenantID, operation, func(rec *store.BreakerRecord) {
		rec.ConsecutiveFailures++
		if rec.ConsecutiveFailures >= FailureThreshold {
			rec.State = store.BreakerOpen
			now := time.Now()
			rec.OpenedAt = &now
		}
	})
}

func (b *Breaker) getOrCreate(ctx context.Context, environment, tenantID, operation string) (*store.BreakerRecord, error) {
	var rec store.BreakerRecord
	err := b.db.WithContext(ctx).
		Where("environment = ? AND tenant_id = ? AND operation = ?", environment, tenantID, operation).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rec = store.BreakerRecord{
			Environment: environment,
			TenantID:    tenantID,
			Operation:   operation,
			State:       store.BreakerClosed,
		}
		if err := b.db.WithContext(ctx).Create(&rec).Error; err != nil {
			return nil, fmt.Errorf("breaker: create record: %w", err)
		}
		return &rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("breaker: read record: %w", err)
	}
	return &rec, nil
}

func (b *Breaker) reset(ctx context.Context, rec *store.BreakerRecord) error {
	rec.State = store.BreakerClosed
	rec.ConsecutiveFailures = 0
	rec.OpenedAt = nil
	return b.save(ctx, rec)
}

func (b *Breaker) update(ctx context.Context, environment, tenantID, operation string, mutate func(*store.BreakerRecord)) error {
	rec, err := b.getOrCreate(ctx, environment, tenantID, operation)
	if err != nil {
		return err
	}
	mutate(rec)
	return b.save(ctx, rec)
}

func (b *Breaker) save(ctx context.Context, rec *store.BreakerRecord) error {
	if err := b.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("breaker: save record: %w", err)
	}
	if b.cache != nil {
		key := cacheKey(rec.Environment, rec.TenantID, rec.Operation)
		b.cache.Set(ctx, key, string(rec.State), Cooldown)
	}
	return nil
}
