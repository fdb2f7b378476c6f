//go:build integration

package postgres

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
	"github.com/speedrun-hq/speedrun-batcher/pkg/retry"
	"github.com/speedrun-hq/speedrun-batcher/pkg/store/storetest"
)

// setupPostgres starts a PostgreSQL container and returns its connection url
func setupPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "ledger",
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

	return fmt.Sprintf("postgres://test:test@%s:%s/ledger?sslmode=disable", host, port.Port())
}

func newTestStore(t *testing.T, url string) *Store {
	t.Helper()
	ctx := context.Background()

	retryConf := retry.DefaultConfig()
	retryConf.InitialDelay = 100 * time.Millisecond
	pool, err := Connect(ctx, url, DefaultPoolConfig(), &logger.EmptyLogger{}, retryConf)
	require.NoError(t, err)

	store := New(pool, &logger.EmptyLogger{})
	require.NoError(t, store.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE batch_results, batches, intents`)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestPostgresStoreContract(t *testing.T) {
	url := setupPostgres(t)
	storetest.Run(t, func(t *testing.T) ledger.Store { return newTestStore(t, url) })
}

func TestPostgresLargeAmounts(t *testing.T) {
	store := newTestStore(t, setupPostgres(t))
	ctx := context.Background()

	// 2^255, well beyond int64
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	intent := storetest.NewIntent(1, "whale", 0)
	intent.MinOutput = huge
	require.NoError(t, store.InsertIntent(ctx, intent))

	got, err := store.GetIntent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, huge.Cmp(got.MinOutput))
}

func TestPostgresEngineEndToEnd(t *testing.T) {
	store := newTestStore(t, setupPostgres(t))
	ctx := context.Background()

	engine, err := ledger.NewEngine(ctx, store, ledger.WithOrderer(ledger.ByContentHash{}))
	require.NoError(t, err)

	var ids []uint64
	for _, owner := range []string{"alice", "bob", "carol"} {
		id, err := engine.SubmitIntent(ctx, ledger.SubmitIntentRequest{
			Owner: owner, Payload: []byte(owner), TokenIn: "DOT", TokenOut: "USDT", MinOutput: big.NewInt(100),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	batchID, err := engine.CreateBatch(ctx, ids, "R")
	require.NoError(t, err)
	_, err = engine.CreateBatch(ctx, ids[:1], "R")
	assert.ErrorIs(t, err, ledger.ErrIntentNotPending)

	result, err := engine.ExecuteBatch(ctx, batchID, big.NewInt(299), decimal.RequireFromString("0.99"))
	require.NoError(t, err)
	assert.False(t, result.Success)

	// a restarted engine resumes from persisted state
	restarted, err := ledger.NewEngine(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), restarted.IntentCounter(ctx))
	assert.Equal(t, uint64(1), restarted.BatchCounter(ctx))

	for _, id := range ids {
		intent, err := restarted.GetIntent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.IntentFailed, intent.Status)
	}
	stored, err := restarted.GetBatchResult(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, ledger.FailureSettlementFloor, stored.FailureReason)
	assert.True(t, stored.ExecutionPrice.Equal(decimal.RequireFromString("0.99")))
}
