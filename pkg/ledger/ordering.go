package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

const (
	OrderingByIntentID    = "intent-id/v1"
	OrderingByContentHash = "content-hash/v1"
)

// Orderer produces the canonical execution order of a batch's members.
// The result must depend only on the set of intents, never on the input order.
// Name is stored on each batch so the order can be reproduced later.
type Orderer interface {
	Name() string
	Order(intents []*models.Intent) []*models.Intent
}

// OrdererByName returns the ordering rule registered under name
func OrdererByName(name string) (Orderer, error) {
	switch name {
	case OrderingByIntentID, "":
		return ByIntentID{}, nil
	case OrderingByContentHash:
		return ByContentHash{}, nil
	}
	return nil, fmt.Errorf("unknown ordering rule: %s", name)
}

// ByIntentID orders members by ascending intent id
type ByIntentID struct{}

func (ByIntentID) Name() string { return OrderingByIntentID }

func (ByIntentID) Order(intents []*models.Intent) []*models.Intent {
	out := append([]*models.Intent(nil), intents...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByContentHash orders members by the keccak256 hash of their immutable fields,
// ties broken by intent id. Submission order carries no positional advantage.
type ByContentHash struct{}

func (ByContentHash) Name() string { return OrderingByContentHash }

func (ByContentHash) Order(intents []*models.Intent) []*models.Intent {
	type keyed struct {
		intent *models.Intent
		key    common.Hash
	}
	items := make([]keyed, len(intents))
	for i, intent := range intents {
		items[i] = keyed{intent: intent, key: ContentHash(intent)}
	}
	sort.Slice(items, func(i, j int) bool {
		if c := bytes.Compare(items[i].key[:], items[j].key[:]); c != 0 {
			return c < 0
		}
		return items[i].intent.ID < items[j].intent.ID
	})

	out := make([]*models.Intent, len(items))
	for i, item := range items {
		out[i] = item.intent
	}
	return out
}

// ContentHash commits to every immutable field of an intent
func ContentHash(intent *models.Intent) common.Hash {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], intent.ID)

	var minOutput []byte
	if intent.MinOutput != nil {
		minOutput = intent.MinOutput.Bytes()
	}

	return crypto.Keccak256Hash(
		id[:],
		lengthPrefixed(intent.Owner),
		lengthPrefixed(intent.TokenIn),
		lengthPrefixed(intent.TokenOut),
		lengthPrefixed(string(minOutput)),
		intent.PayloadHash[:],
	)
}

func lengthPrefixed(s string) []byte {
	out := make([]byte, 4+len(s))
	binary.BigEndian.PutUint32(out, uint32(len(s)))
	copy(out[4:], s)
	return out
}
