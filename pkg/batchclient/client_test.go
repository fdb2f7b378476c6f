package batchclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-batcher/pkg/api"
	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
	"github.com/speedrun-hq/speedrun-batcher/pkg/store/memory"
)

func newTestClient(t *testing.T, cfg api.Config, opts ...Option) *Client {
	t.Helper()
	engine, err := ledger.NewEngine(context.Background(), memory.New())
	require.NoError(t, err)

	log := &logger.EmptyLogger{}
	srv := httptest.NewServer(api.NewServer(cfg, engine, nil, log).Router())
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", log, opts...)
}

func submit(t *testing.T, c *Client, owner, minOutput string) uint64 {
	t.Helper()
	id, err := c.SubmitIntent(context.Background(), models.SubmitIntentRequest{
		Owner:     owner,
		Payload:   []byte("swap " + owner),
		TokenIn:   "DOT",
		TokenOut:  "USDT",
		MinOutput: minOutput,
	})
	require.NoError(t, err)
	return id
}

func TestClientLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, api.Config{})

	first := submit(t, c, "alice", "100")
	second := submit(t, c, "bob", "250")

	intent, err := c.GetIntent(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "alice", intent.Owner)
	assert.Equal(t, "100", intent.MinOutput)
	assert.Equal(t, models.IntentPending, intent.Status)

	batchID, err := c.CreateBatch(ctx, []uint64{second, first}, "default")
	require.NoError(t, err)

	batch, err := c.GetBatch(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{first, second}, batch.IntentIDs)
	assert.Equal(t, "350", batch.TotalVolume)

	result, err := c.ExecuteBatch(ctx, batchID, models.ExecuteBatchRequest{ActualOutput: "360", ExecutionPrice: "6.51"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "360", result.TotalOutputAmount)

	stored, err := c.GetBatchResult(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, *result, *stored)

	stats, err := c.GetBatchStats(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, stats.Settled)

	totals, err := c.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), totals.Intents)
	assert.Equal(t, uint64(1), totals.Batches)
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, api.Config{})

	_, err := c.GetIntent(ctx, 7)
	assert.True(t, IsNotFound(err))

	id := submit(t, c, "alice", "1")
	batchID, err := c.CreateBatch(ctx, []uint64{id}, "default")
	require.NoError(t, err)

	_, err = c.CreateBatch(ctx, []uint64{id}, "default")
	assert.True(t, IsConflict(err))

	_, err = c.ExecuteBatch(ctx, batchID, models.ExecuteBatchRequest{ActualOutput: "abc", ExecutionPrice: "1"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, api.CodeInvalidRequest, apiErr.Code)
}

func TestClientRateLimited(t *testing.T) {
	c := newTestClient(t, api.Config{SubmitRateLimit: 0.001, SubmitBurst: 1})
	submit(t, c, "alice", "1")

	_, err := c.SubmitIntent(context.Background(), models.SubmitIntentRequest{
		Owner: "alice", Payload: []byte{1}, TokenIn: "DOT", TokenOut: "USDT", MinOutput: "1",
	})
	assert.True(t, IsRateLimited(err))
}

func TestFetchPendingIntentsFollowsPages(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, api.Config{})

	for i := 0; i < pageSize+3; i++ {
		submit(t, c, "trader", "1")
	}
	_, err := c.CreateBatch(ctx, []uint64{1, 2}, "default")
	require.NoError(t, err)

	pending, err := c.FetchPendingIntents(ctx)
	require.NoError(t, err)
	require.Len(t, pending, pageSize+1)
	assert.Equal(t, uint64(3), pending[0].ID)
	assert.Equal(t, uint64(pageSize+3), pending[len(pending)-1].ID)
}

func TestBatchConfigRequiresAdminKey(t *testing.T) {
	ctx := context.Background()
	cfg := api.Config{AdminAPIKey: "secret"}

	anonymous := newTestClient(t, cfg)
	_, err := anonymous.GetBatchConfig(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	admin := newTestClient(t, cfg, WithAdminKey("secret"))
	require.NoError(t, admin.SetBatchConfig(ctx, models.BatchConfigBody{MinBatchSize: 2, MaxBatchSize: 10}))
	got, err := admin.GetBatchConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MinBatchSize)
	assert.Equal(t, 10, got.MaxBatchSize)
}
