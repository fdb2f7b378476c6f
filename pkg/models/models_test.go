package models

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentStatusTransitions(t *testing.T) {
	tests := []struct {
		name     string
		from     IntentStatus
		to       IntentStatus
		expected bool
	}{
		{"pending to batched", IntentPending, IntentBatched, true},
		{"batched to executed", IntentBatched, IntentExecuted, true},
		{"batched to failed", IntentBatched, IntentFailed, true},
		{"pending to executed", IntentPending, IntentExecuted, false},
		{"batched to pending", IntentBatched, IntentPending, false},
		{"executed to failed", IntentExecuted, IntentFailed, false},
		{"failed to pending", IntentFailed, IntentPending, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.from.CanTransitionTo(tc.to))
		})
	}

	assert.True(t, IntentExecuted.IsTerminal())
	assert.True(t, IntentFailed.IsTerminal())
	assert.False(t, IntentBatched.IsTerminal())
}

func TestBatchStatusTransitions(t *testing.T) {
	tests := []struct {
		name     string
		from     BatchStatus
		to       BatchStatus
		expected bool
	}{
		{"formed to executing", BatchFormed, BatchExecuting, true},
		{"executing to settled", BatchExecuting, BatchSettled, true},
		{"executing to aborted", BatchExecuting, BatchAborted, true},
		{"formed to settled", BatchFormed, BatchSettled, false},
		{"settled to executing", BatchSettled, BatchExecuting, false},
		{"aborted to settled", BatchAborted, BatchSettled, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestParseIntentStatus(t *testing.T) {
	status, ok := ParseIntentStatus("pending")
	assert.True(t, ok)
	assert.Equal(t, IntentPending, status)

	_, ok = ParseIntentStatus("cancelled")
	assert.False(t, ok)
}

func TestNormalizeAccount(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercase address is checksummed",
			input:    "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
			expected: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		},
		{
			name:     "surrounding whitespace is trimmed",
			input:    "  alice ",
			expected: "alice",
		},
		{
			name:     "non-address symbol kept verbatim",
			input:    "USDC",
			expected: "USDC",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizeAccount(tc.input))
		})
	}
}

func TestIntentClone(t *testing.T) {
	batchID := uint64(3)
	original := &Intent{
		ID:        1,
		Payload:   []byte{0x01, 0x02},
		MinOutput: big.NewInt(100),
		BatchID:   &batchID,
	}

	clone := original.Clone()
	require.NotNil(t, clone)

	clone.Payload[0] = 0xff
	clone.MinOutput.SetInt64(5)
	*clone.BatchID = 9

	assert.Equal(t, byte(0x01), original.Payload[0])
	assert.Equal(t, int64(100), original.MinOutput.Int64())
	assert.Equal(t, uint64(3), *original.BatchID)
}

func TestBatchCreatedEventCopiesIDs(t *testing.T) {
	ids := []uint64{1, 2, 3}
	event := NewBatchCreated(7, ids, time.Unix(1700000000, 0))
	ids[0] = 99

	assert.Equal(t, EventBatchCreated, event.Type)
	assert.Equal(t, []uint64{1, 2, 3}, event.IntentIDs)
	assert.NotEmpty(t, event.ID)
}
