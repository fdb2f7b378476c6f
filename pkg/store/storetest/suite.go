// Package storetest holds the behaviour every ledger.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

// Factory returns an empty store
type Factory func(t *testing.T) ledger.Store

var errRollback = errors.New("rollback")

// NewIntent builds a pending intent with the given id
func NewIntent(id uint64, owner string, minOutput int64) *models.Intent {
	payload := []byte(owner)
	return &models.Intent{
		ID:          id,
		Owner:       owner,
		Payload:     payload,
		PayloadHash: crypto.Keccak256Hash(payload),
		TokenIn:     "DOT",
		TokenOut:    "USDT",
		MinOutput:   big.NewInt(minOutput),
		Status:      models.IntentPending,
		CreatedAt:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// Run executes the store contract against stores built by factory
func Run(t *testing.T, factory Factory) {
	t.Run("intent round trip", func(t *testing.T) { testIntentRoundTrip(t, factory(t)) })
	t.Run("unknown ids", func(t *testing.T) { testUnknownIDs(t, factory(t)) })
	t.Run("list and count", func(t *testing.T) { testListAndCount(t, factory(t)) })
	t.Run("batch and result", func(t *testing.T) { testBatchAndResult(t, factory(t)) })
	t.Run("transaction rollback", func(t *testing.T) { testRollback(t, factory(t)) })
	t.Run("transaction reads own writes", func(t *testing.T) { testReadOwnWrites(t, factory(t)) })
}

func testIntentRoundTrip(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	intent := NewIntent(1, "alice", 100)
	require.NoError(t, store.InsertIntent(ctx, intent))
	assert.Error(t, store.InsertIntent(ctx, intent), "ids are unique")

	got, err := store.GetIntent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, intent.Owner, got.Owner)
	assert.Equal(t, []byte(intent.Payload), []byte(got.Payload))
	assert.Equal(t, intent.PayloadHash, got.PayloadHash)
	assert.Equal(t, "100", got.MinOutput.String())
	assert.Equal(t, models.IntentPending, got.Status)
	assert.Nil(t, got.BatchID)
	assert.True(t, intent.CreatedAt.Equal(got.CreatedAt))

	batchID := uint64(7)
	got.Status = models.IntentBatched
	got.BatchID = &batchID
	require.NoError(t, store.UpdateIntent(ctx, got))

	updated, err := store.GetIntent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.IntentBatched, updated.Status)
	require.NotNil(t, updated.BatchID)
	assert.Equal(t, batchID, *updated.BatchID)

	last, err := store.LastIntentID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last)
}

func testUnknownIDs(t *testing.T, store ledger.Store) {
	ctx := context.Background()

	_, err := store.GetIntent(ctx, 9)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = store.GetBatch(ctx, 9)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = store.GetBatchResult(ctx, 9)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.ErrorIs(t, store.UpdateIntent(ctx, NewIntent(9, "x", 1)), ledger.ErrNotFound)
	assert.ErrorIs(t, store.UpdateBatch(ctx, &models.Batch{ID: 9, TotalVolume: big.NewInt(0)}), ledger.ErrNotFound)

	last, err := store.LastBatchID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last)
}

func testListAndCount(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	for id := uint64(1); id <= 6; id++ {
		intent := NewIntent(id, "owner", int64(id))
		if id%3 == 0 {
			intent.Status = models.IntentFailed
		}
		require.NoError(t, store.InsertIntent(ctx, intent))
	}

	all, err := store.ListIntents(ctx, ledger.IntentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i, intent := range all {
		assert.Equal(t, uint64(i+1), intent.ID)
	}

	pending, err := store.ListIntents(ctx, ledger.IntentFilter{Status: models.IntentPending, AfterID: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, uint64(2), pending[0].ID)
	assert.Equal(t, uint64(4), pending[1].ID)

	n, err := store.CountIntents(ctx, models.IntentPending)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
	n, err = store.CountIntents(ctx, models.IntentFailed)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func testBatchAndResult(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	batch := &models.Batch{
		ID:           3,
		IntentIDs:    []uint64{5, 2, 9},
		IntentCount:  3,
		TotalVolume:  new(big.Int).Lsh(big.NewInt(1), 100),
		Route:        "R",
		OrderingRule: ledger.OrderingByContentHash,
		Status:       models.BatchFormed,
		CreatedAt:    created,
	}
	require.NoError(t, store.InsertBatch(ctx, batch))

	got, err := store.GetBatch(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 2, 9}, got.IntentIDs, "member order is preserved")
	assert.Equal(t, batch.TotalVolume.String(), got.TotalVolume.String())
	assert.Equal(t, ledger.OrderingByContentHash, got.OrderingRule)
	assert.Nil(t, got.ExecutedAt)

	executed := created.Add(time.Minute)
	got.Status = models.BatchSettled
	got.ExecutedAt = &executed
	require.NoError(t, store.UpdateBatch(ctx, got))

	got, err = store.GetBatch(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, models.BatchSettled, got.Status)
	require.NotNil(t, got.ExecutedAt)
	assert.True(t, executed.Equal(*got.ExecutedAt))

	last, err := store.LastBatchID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)

	result := &models.BatchResult{
		BatchID:           3,
		Success:           true,
		TotalInputAmount:  big.NewInt(100),
		TotalOutputAmount: big.NewInt(150),
		ExecutionPrice:    decimal.RequireFromString("1.5"),
		Timestamp:         executed,
	}
	require.NoError(t, store.InsertBatchResult(ctx, result))
	assert.Error(t, store.InsertBatchResult(ctx, result), "one result per batch")

	stored, err := store.GetBatchResult(ctx, 3)
	require.NoError(t, err)
	assert.True(t, stored.Success)
	assert.Equal(t, "150", stored.TotalOutputAmount.String())
	assert.True(t, stored.ExecutionPrice.Equal(decimal.RequireFromString("1.5")))
	assert.Empty(t, stored.FailureReason)
}

func testRollback(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	require.NoError(t, store.InsertIntent(ctx, NewIntent(1, "alice", 1)))

	err := store.WithTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, store.InsertIntent(txCtx, NewIntent(2, "bob", 1)))
		intent, err := store.GetIntent(txCtx, 1)
		require.NoError(t, err)
		intent.Status = models.IntentFailed
		require.NoError(t, store.UpdateIntent(txCtx, intent))
		return errRollback
	})
	require.ErrorIs(t, err, errRollback)

	_, err = store.GetIntent(ctx, 2)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	intent, err := store.GetIntent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.IntentPending, intent.Status)

	last, err := store.LastIntentID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last)
}

func testReadOwnWrites(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	require.NoError(t, store.InsertIntent(ctx, NewIntent(1, "alice", 1)))

	err := store.WithTx(ctx, func(txCtx context.Context) error {
		if err := store.InsertIntent(txCtx, NewIntent(2, "bob", 1)); err != nil {
			return err
		}
		intent, err := store.GetIntent(txCtx, 1)
		if err != nil {
			return err
		}
		intent.Status = models.IntentBatched
		if err := store.UpdateIntent(txCtx, intent); err != nil {
			return err
		}

		pending, err := store.CountIntents(txCtx, models.IntentPending)
		if err != nil {
			return err
		}
		assert.Equal(t, uint64(1), pending)

		listed, err := store.ListIntents(txCtx, ledger.IntentFilter{})
		if err != nil {
			return err
		}
		assert.Len(t, listed, 2)

		last, err := store.LastIntentID(txCtx)
		if err != nil {
			return err
		}
		assert.Equal(t, uint64(2), last)
		return nil
	})
	require.NoError(t, err)

	intent, err := store.GetIntent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "bob", intent.Owner)
}
