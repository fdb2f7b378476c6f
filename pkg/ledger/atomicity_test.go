package ledger_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/speedrun-batcher/pkg/events"
	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
	"github.com/speedrun-hq/speedrun-batcher/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDiskFull = errors.New("disk full")

// flakyStore fails selected writes after a number of successful calls
type flakyStore struct {
	*memory.Store
	failIntentUpdatesAfter int
	failResultInsert       bool
	failIntentInsert       bool
	intentUpdates          int
}

func (s *flakyStore) InsertIntent(ctx context.Context, intent *models.Intent) error {
	if s.failIntentInsert {
		return errDiskFull
	}
	return s.Store.InsertIntent(ctx, intent)
}

func (s *flakyStore) UpdateIntent(ctx context.Context, intent *models.Intent) error {
	s.intentUpdates++
	if s.failIntentUpdatesAfter > 0 && s.intentUpdates > s.failIntentUpdatesAfter {
		return errDiskFull
	}
	return s.Store.UpdateIntent(ctx, intent)
}

func (s *flakyStore) InsertBatchResult(ctx context.Context, result *models.BatchResult) error {
	if s.failResultInsert {
		return errDiskFull
	}
	return s.Store.InsertBatchResult(ctx, result)
}

func newFlakyEngine(t *testing.T) (*ledger.Engine, *flakyStore, *events.Memory) {
	t.Helper()
	store := &flakyStore{Store: memory.New()}
	sink := events.NewMemory()
	engine, err := ledger.NewEngine(context.Background(), store, ledger.WithSink(sink))
	require.NoError(t, err)
	return engine, store, sink
}

func submitPair(t *testing.T, engine *ledger.Engine) []uint64 {
	t.Helper()
	var ids []uint64
	for _, owner := range []string{"alice", "bob"} {
		id, err := engine.SubmitIntent(context.Background(), ledger.SubmitIntentRequest{
			Owner: owner, Payload: []byte(owner), TokenIn: "A", TokenOut: "B", MinOutput: big.NewInt(10),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestFailedSubmissionBurnsNoID(t *testing.T) {
	ctx := context.Background()
	engine, store, sink := newFlakyEngine(t)

	store.failIntentInsert = true
	_, err := engine.SubmitIntent(ctx, ledger.SubmitIntentRequest{
		Owner: "alice", Payload: []byte{1}, TokenIn: "A", TokenOut: "B", MinOutput: big.NewInt(1),
	})
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, uint64(0), engine.IntentCounter(ctx))
	assert.Empty(t, sink.GetEvents())

	store.failIntentInsert = false
	id, err := engine.SubmitIntent(ctx, ledger.SubmitIntentRequest{
		Owner: "alice", Payload: []byte{1}, TokenIn: "A", TokenOut: "B", MinOutput: big.NewInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func TestCreateBatchRollsBackPartialAssignment(t *testing.T) {
	ctx := context.Background()
	engine, store, sink := newFlakyEngine(t)
	ids := submitPair(t, engine)

	// the second member update fails after the first was written to the transaction
	store.failIntentUpdatesAfter = 1
	_, err := engine.CreateBatch(ctx, ids, "R")
	require.ErrorIs(t, err, errDiskFull)

	for _, id := range ids {
		intent, err := engine.GetIntent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.IntentPending, intent.Status)
		assert.Nil(t, intent.BatchID)
	}
	_, err = engine.GetBatch(ctx, 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, uint64(0), engine.BatchCounter(ctx))
	assert.Empty(t, sink.GetEventsByType(models.EventBatchCreated))

	store.failIntentUpdatesAfter = 0
	batchID, err := engine.CreateBatch(ctx, ids, "R")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), batchID, "the failed attempt did not consume a batch id")
}

func TestSettleBatchRollsBackOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	engine, store, sink := newFlakyEngine(t)
	ids := submitPair(t, engine)
	batchID, err := engine.CreateBatch(ctx, ids, "R")
	require.NoError(t, err)

	store.failResultInsert = true
	_, err = engine.ExecuteBatch(ctx, batchID, big.NewInt(100), decimal.NewFromInt(1))
	require.ErrorIs(t, err, errDiskFull)

	batch, err := engine.GetBatch(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchFormed, batch.Status)
	assert.Nil(t, batch.ExecutedAt)
	for _, id := range ids {
		intent, err := engine.GetIntent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.IntentBatched, intent.Status)
	}
	_, err = engine.GetBatchResult(ctx, batchID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Empty(t, sink.GetEventsByType(models.EventBatchExecuted))

	store.failResultInsert = false
	result, err := engine.ExecuteBatch(ctx, batchID, big.NewInt(100), decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestCancelledContextDoesNotInterruptCommit(t *testing.T) {
	engine, _, _ := newFlakyEngine(t)
	ids := submitPair(t, engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batchID, err := engine.CreateBatch(ctx, ids, "R")
	require.NoError(t, err)

	batch, err := engine.GetBatch(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchFormed, batch.Status)
}
