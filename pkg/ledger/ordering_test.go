package ledger_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIntents() []*models.Intent {
	owners := []string{"alice", "bob", "carol", "dave", "erin"}
	out := make([]*models.Intent, len(owners))
	for i, owner := range owners {
		payload := []byte("payload-" + owner)
		out[i] = &models.Intent{
			ID:          uint64(i + 1),
			Owner:       owner,
			Payload:     payload,
			PayloadHash: crypto.Keccak256Hash(payload),
			TokenIn:     "DOT",
			TokenOut:    "USDT",
			MinOutput:   big.NewInt(int64(100 * (i + 1))),
			Status:      models.IntentPending,
		}
	}
	return out
}

func idsOf(intents []*models.Intent) []uint64 {
	out := make([]uint64, len(intents))
	for i, intent := range intents {
		out[i] = intent.ID
	}
	return out
}

func TestOrdererByName(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		wantErr  bool
	}{
		{name: "", expected: ledger.OrderingByIntentID},
		{name: ledger.OrderingByIntentID, expected: ledger.OrderingByIntentID},
		{name: ledger.OrderingByContentHash, expected: ledger.OrderingByContentHash},
		{name: "fifo", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			orderer, err := ledger.OrdererByName(tc.name)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, orderer.Name())
		})
	}
}

func TestOrderersArePermutationInvariant(t *testing.T) {
	for _, orderer := range []ledger.Orderer{ledger.ByIntentID{}, ledger.ByContentHash{}} {
		t.Run(orderer.Name(), func(t *testing.T) {
			intents := testIntents()
			expected := idsOf(orderer.Order(intents))

			permutations := [][]int{
				{4, 3, 2, 1, 0},
				{2, 0, 4, 1, 3},
				{1, 4, 0, 3, 2},
			}
			for _, perm := range permutations {
				shuffled := make([]*models.Intent, len(perm))
				for i, j := range perm {
					shuffled[i] = intents[j]
				}
				assert.Equal(t, expected, idsOf(orderer.Order(shuffled)))
			}
			assert.ElementsMatch(t, idsOf(intents), expected)
		})
	}
}

func TestByIntentIDAscending(t *testing.T) {
	intents := testIntents()
	reversed := []*models.Intent{intents[4], intents[3], intents[2], intents[1], intents[0]}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, idsOf(ledger.ByIntentID{}.Order(reversed)))
	assert.Equal(t, uint64(5), reversed[0].ID, "input slice is not reordered in place")
}

func TestContentHashCoversImmutableFields(t *testing.T) {
	base := testIntents()[0]
	hash := ledger.ContentHash(base)

	mutations := map[string]func(i *models.Intent){
		"owner":      func(i *models.Intent) { i.Owner = "mallory" },
		"token in":   func(i *models.Intent) { i.TokenIn = "KSM" },
		"token out":  func(i *models.Intent) { i.TokenOut = "USDC" },
		"min output": func(i *models.Intent) { i.MinOutput = big.NewInt(101) },
		"payload":    func(i *models.Intent) { i.PayloadHash = crypto.Keccak256Hash([]byte("other")) },
		"id":         func(i *models.Intent) { i.ID = 99 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			changed := base.Clone()
			mutate(changed)
			assert.NotEqual(t, hash, ledger.ContentHash(changed))
		})
	}

	t.Run("status does not affect the hash", func(t *testing.T) {
		changed := base.Clone()
		changed.Status = models.IntentBatched
		assert.Equal(t, hash, ledger.ContentHash(changed))
	})

	t.Run("field boundaries are unambiguous", func(t *testing.T) {
		a := base.Clone()
		a.TokenIn, a.TokenOut = "AB", "C"
		b := base.Clone()
		b.TokenIn, b.TokenOut = "A", "BC"
		assert.NotEqual(t, ledger.ContentHash(a), ledger.ContentHash(b))
	})
}

func TestSequence(t *testing.T) {
	seq := ledger.NewSequence(0)
	assert.Equal(t, uint64(1), seq.Next())
	assert.Equal(t, uint64(1), seq.Next(), "peeking does not consume")
	seq.Commit(1)
	assert.Equal(t, uint64(1), seq.Last())
	assert.Equal(t, uint64(2), seq.Next())

	seq.Commit(1)
	assert.Equal(t, uint64(1), seq.Last(), "stale commits are ignored")

	resumed := ledger.NewSequence(41)
	assert.Equal(t, uint64(42), resumed.Next())
}
