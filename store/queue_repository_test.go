//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupPostgresContainer(t *testing.T) *gorm.DB {
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
	require.NoError(t, Migrate(db))
	return db
}

func TestQueueRepository_EnqueueOrder_DuplicateRejected(t *testing.T) {
	db := setupPostgresContainer(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	item, err := repo.EnqueueOrder(ctx, "tenant-1", "order-1")
	require.NoError(t, err)
	assert.Equal(t, QueueStatusPending, item.Status)

	_, err = repo.EnqueueOrder(ctx, "tenant-1", "order-1")
	assert.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestQueueRepository_ClaimBatch_MarksProcessing(t *testing.T) {
	db := setupPostgresContainer(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	_, err := repo.EnqueueOrder(ctx, "tenant-1", "order-1")
	require.NoError(t, err)
	_, err = repo.EnqueueOrder(ctx, "tenant-1", "order-2")
	require.NoError(t, err)

	claimed, err := repo.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, QueueStatusProcessing, claimed[0].Status)
	assert.NotNil(t, claimed[0].StartedAt)

	counts, err := repo.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[QueueStatusProcessing])
	assert.Equal(t, int64(1), counts[QueueStatusPending])
}

func TestQueueRepository_MarkRetryable_ExhaustsIntoFailed(t *testing.T) {
	db := setupPostgresContainer(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	item, err := repo.EnqueueOrder(ctx, "tenant-1", "order-1")
	require.NoError(t, err)
	item.MaxRetryCount = 1

	require.NoError(t, repo.MarkRetryable(ctx, item, "temporary failure", 503, 100))

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, QueueStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestQueueRepository_ResetToPending(t *testing.T) {
	db := setupPostgresContainer(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	item, err := repo.EnqueueOrder(ctx, "tenant-1", "order-1")
	require.NoError(t, err)
	claimed, err := repo.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, repo.ResetToPending(ctx, item.ID))

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, QueueStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)

	err = repo.ResetToPending(ctx, item.ID)
	assert.Error(t, err)
}
