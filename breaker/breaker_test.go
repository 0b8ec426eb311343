//go:build integration

package breaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"fiscalcore/store"
)

func setupDB(t *testing.T) *gorm.DB {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable", host, port.Port())
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	return db
}

func TestBreaker_Evaluate_ClosedByDefault(t *testing.T) {
	db := setupDB(t)
	b := New(db, nil)

	decision, err := b.Evaluate(context.Background(), "production", "tenant-1", "submit")
	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, decision)
}

func TestBreaker_RecordFailure_TripsOpenAtThreshold(t *testing.T) {
	db := setupDB(t)
	b := New(db, nil)
	ctx := context.Background()

	for i := 0; i < FailureThreshold; i++ {
		require.NoError(t, b.RecordFailure(ctx, "production", "tenant-1", "submit"))
	}

	decision, err := b.Evaluate(ctx, "production", "tenant-1", "submit")
	require.NoError(t, err)
	assert.Equal(t, DecisionSkip, decision)
}

func TestBreaker_RecordSuccess_ResetsFailures(t *testing.T) {
	db := setupDB(t)
	b := New(db, nil)
	ctx := context.Background()

	require.NoError(t, b.RecordFailure(ctx, "production", "tenant-1", "submit"))
	require.NoError(t, b.RecordFailure(ctx, "production", "tenant-1", "submit"))
	require.NoError(t, b.RecordSuccess(ctx, "production", "tenant-1", "submit"))

	decision, err := b.Evaluate(ctx, "production", "tenant-1", "submit")
	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, decision)
}

func TestBreaker_WriteThroughCache(t *testing.T) {
	db := setupDB(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := New(db, client)
	ctx := context.Background()

	require.NoError(t, b.RecordSuccess(ctx, "production", "tenant-1", "submit"))

	val, err := mr.Get(cacheKey("production", "tenant-1", "submit"))
	require.NoError(t, err)
	assert.Equal(t, string(store.BreakerClosed), val)
}

func TestBreaker_Evaluate_ReadsCachedOpenStateWithoutDB(t *testing.T) {
	db := setupDB(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := New(db, client)
	ctx := context.Background()

	require.NoError(t, mr.Set(cacheKey("production", "tenant-1", "submit"), string(store.BreakerOpen)))

	decision, err := b.Evaluate(ctx, "production", "tenant-1", "submit")
	require.NoError(t, err)
	assert.Equal(t, DecisionSkip, decision, "a live cached open entry should skip without consulting Postgres")
}
