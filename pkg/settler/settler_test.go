package settler

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-batcher/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
	"github.com/speedrun-hq/speedrun-batcher/pkg/store/memory"
	"github.com/speedrun-hq/speedrun-batcher/pkg/venue"
)

// failingVenue rejects every order
type failingVenue struct {
	mu     sync.Mutex
	orders []venue.Order
}

func (v *failingVenue) Execute(_ context.Context, order venue.Order) (*venue.Report, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orders = append(v.orders, order)
	return nil, &venue.RejectedError{StatusCode: 422, Reason: "no liquidity"}
}

func (v *failingVenue) calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.orders)
}

// fixedVenue answers every order with the same report
type fixedVenue struct {
	report *venue.Report
}

func (v fixedVenue) Execute(context.Context, venue.Order) (*venue.Report, error) {
	return v.report, nil
}

func newTestSettler(t *testing.T, v venue.Venue, batchCfg ledger.BatchConfig, breakerCfg circuitbreaker.Config) (*Settler, *ledger.Engine) {
	t.Helper()
	engine, err := ledger.NewEngine(context.Background(), memory.New(), ledger.WithBatchConfig(batchCfg))
	require.NoError(t, err)

	log := &logger.EmptyLogger{}
	s := New(Config{PollingInterval: time.Hour, Route: "default", Workers: 2}, engine, v,
		circuitbreaker.NewRegistry(breakerCfg, log), log)
	return s, engine
}

func submitIntent(t *testing.T, engine *ledger.Engine, owner, tokenIn, tokenOut string, minOutput int64) uint64 {
	t.Helper()
	id, err := engine.SubmitIntent(context.Background(), ledger.SubmitIntentRequest{
		Owner:     owner,
		Payload:   []byte(owner),
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		MinOutput: big.NewInt(minOutput),
	})
	require.NoError(t, err)
	return id
}

func TestTickBatchesPerPairAndSettles(t *testing.T) {
	ctx := context.Background()
	s, engine := newTestSettler(t, venue.NewSimulated(decimal.RequireFromString("6.5"), 100),
		ledger.DefaultBatchConfig(), circuitbreaker.Config{})

	dot := []uint64{
		submitIntent(t, engine, "alice", "DOT", "USDT", 100),
		submitIntent(t, engine, "bob", "DOT", "USDT", 200),
	}
	ksm := submitIntent(t, engine, "carol", "KSM", "USDT", 50)

	formed, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, formed)

	for _, id := range append(dot, ksm) {
		intent, err := engine.GetIntent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.IntentExecuted, intent.Status)
		require.NotNil(t, intent.BatchID)
	}

	first, err := engine.GetIntent(ctx, dot[0])
	require.NoError(t, err)
	batch, err := engine.GetBatch(ctx, *first.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "default:DOT:USDT", batch.Route)
	assert.Equal(t, dot, batch.IntentIDs)
	assert.Equal(t, models.BatchSettled, batch.Status)

	result, err := engine.GetBatchResult(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "303", result.TotalOutputAmount.String())

	formed, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, formed, "nothing left to batch")
}

func TestTickRespectsBatchBounds(t *testing.T) {
	ctx := context.Background()
	s, engine := newTestSettler(t, venue.NewSimulated(decimal.NewFromInt(1), 0),
		ledger.BatchConfig{MinBatchSize: 2, MaxBatchSize: 3}, circuitbreaker.Config{})

	var ids []uint64
	for _, owner := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		ids = append(ids, submitIntent(t, engine, owner, "DOT", "USDT", 1))
	}

	formed, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, formed)

	last, err := engine.GetIntent(ctx, ids[6])
	require.NoError(t, err)
	assert.Equal(t, models.IntentPending, last.Status, "a short trailing chunk waits for more intents")
}

func TestVenueFailureAbortsAndTripsBreaker(t *testing.T) {
	ctx := context.Background()
	v := &failingVenue{}
	s, engine := newTestSettler(t, v, ledger.DefaultBatchConfig(), circuitbreaker.Config{
		Enabled:       true,
		Threshold:     1,
		FailureWindow: time.Minute,
		ResetTimeout:  time.Hour,
	})

	first := submitIntent(t, engine, "alice", "DOT", "USDT", 100)
	formed, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, formed)

	intent, err := engine.GetIntent(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, models.IntentFailed, intent.Status)

	result, err := engine.GetBatchResult(ctx, *intent.BatchID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.FailureReason, venue.ErrorTypeRejected)

	// the route is paused; new intents stay pending
	second := submitIntent(t, engine, "bob", "DOT", "USDT", 100)
	formed, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, formed)
	assert.Equal(t, 1, v.calls())

	intent, err = engine.GetIntent(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, models.IntentPending, intent.Status)

	require.True(t, s.breakers.Reset("default:DOT:USDT"))
	formed, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, formed)
}

func TestFloorViolationFromVenue(t *testing.T) {
	ctx := context.Background()
	s, engine := newTestSettler(t, venue.NewSimulated(decimal.NewFromInt(1), -50),
		ledger.DefaultBatchConfig(), circuitbreaker.Config{})

	id := submitIntent(t, engine, "alice", "DOT", "USDT", 1000)
	_, err := s.Tick(ctx)
	require.NoError(t, err)

	intent, err := engine.GetIntent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.IntentFailed, intent.Status)
	result, err := engine.GetBatchResult(ctx, *intent.BatchID)
	require.NoError(t, err)
	assert.Equal(t, ledger.FailureSettlementFloor, result.FailureReason)
}

func TestUnusableReportAbortsBatch(t *testing.T) {
	tests := []struct {
		name   string
		report *venue.Report
	}{
		{"negative output", &venue.Report{ActualOutput: big.NewInt(-5), ExecutionPrice: decimal.NewFromInt(1)}},
		{"negative price", &venue.Report{ActualOutput: big.NewInt(500), ExecutionPrice: decimal.NewFromInt(-1)}},
		{"missing output", &venue.Report{ExecutionPrice: decimal.NewFromInt(1)}},
		{"no report", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s, engine := newTestSettler(t, fixedVenue{report: tc.report}, ledger.DefaultBatchConfig(), circuitbreaker.Config{
				Enabled:       true,
				Threshold:     1,
				FailureWindow: time.Minute,
				ResetTimeout:  time.Hour,
			})

			ids := []uint64{
				submitIntent(t, engine, "alice", "DOT", "USDT", 100),
				submitIntent(t, engine, "bob", "DOT", "USDT", 100),
			}
			formed, err := s.Tick(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, formed)

			first, err := engine.GetIntent(ctx, ids[0])
			require.NoError(t, err)
			require.NotNil(t, first.BatchID)

			batch, err := engine.GetBatch(ctx, *first.BatchID)
			require.NoError(t, err)
			assert.Equal(t, models.BatchAborted, batch.Status)

			for _, id := range ids {
				intent, err := engine.GetIntent(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, models.IntentFailed, intent.Status)
			}

			result, err := engine.GetBatchResult(ctx, batch.ID)
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Contains(t, result.FailureReason, venue.ErrorTypeRejected)
			assert.True(t, s.breakers.Get("default:DOT:USDT").IsOpen())
		})
	}
}

func TestTickPagesThroughPendingIntents(t *testing.T) {
	ctx := context.Background()
	s, engine := newTestSettler(t, venue.NewSimulated(decimal.NewFromInt(1), 0),
		ledger.BatchConfig{MinBatchSize: 1, MaxBatchSize: 1000}, circuitbreaker.Config{})

	for i := 0; i < listPageSize+10; i++ {
		submitIntent(t, engine, "trader", "DOT", "USDT", 1)
	}

	pending, err := s.pendingIntents(ctx)
	require.NoError(t, err)
	assert.Len(t, pending[models.TokenPair{TokenIn: "DOT", TokenOut: "USDT"}], listPageSize+10)
}

func TestChunkIntents(t *testing.T) {
	ids := []uint64{1, 2, 3, 4, 5}
	tests := []struct {
		name     string
		cfg      ledger.BatchConfig
		expected [][]uint64
	}{
		{"single chunk", ledger.BatchConfig{MinBatchSize: 1, MaxBatchSize: 10}, [][]uint64{{1, 2, 3, 4, 5}}},
		{"even split", ledger.BatchConfig{MinBatchSize: 1, MaxBatchSize: 2}, [][]uint64{{1, 2}, {3, 4}, {5}}},
		{"short tail held back", ledger.BatchConfig{MinBatchSize: 2, MaxBatchSize: 2}, [][]uint64{{1, 2}, {3, 4}}},
		{"below minimum", ledger.BatchConfig{MinBatchSize: 6, MaxBatchSize: 10}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, chunkIntents(ids, tc.cfg))
		})
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s, _ := newTestSettler(t, venue.NewSimulated(decimal.NewFromInt(1), 0),
		ledger.DefaultBatchConfig(), circuitbreaker.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("settler did not stop")
	}
}
