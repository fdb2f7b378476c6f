package models

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Intent is a privately submitted order. Only Status and BatchID change after submission.
type Intent struct {
	ID          uint64        `json:"id"`
	Owner       string        `json:"owner"`
	Payload     hexutil.Bytes `json:"payload"`
	PayloadHash common.Hash   `json:"payload_hash"`
	TokenIn     string        `json:"token_in"`
	TokenOut    string        `json:"token_out"`
	MinOutput   *big.Int      `json:"min_output"`
	Status      IntentStatus  `json:"status"`
	BatchID     *uint64       `json:"batch_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Clone returns a deep copy of the intent
func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	c := *i
	c.Payload = append(hexutil.Bytes(nil), i.Payload...)
	if i.MinOutput != nil {
		c.MinOutput = new(big.Int).Set(i.MinOutput)
	}
	if i.BatchID != nil {
		id := *i.BatchID
		c.BatchID = &id
	}
	return &c
}

// Pair returns the asset pair the intent trades
func (i *Intent) Pair() TokenPair {
	return TokenPair{TokenIn: i.TokenIn, TokenOut: i.TokenOut}
}

// TokenPair identifies a (token_in, token_out) market
type TokenPair struct {
	TokenIn  string
	TokenOut string
}

func (p TokenPair) String() string {
	return p.TokenIn + "->" + p.TokenOut
}

// NormalizeAccount trims the identifier and rewrites hex addresses in checksum form.
// Other identifiers are returned as-is.
func NormalizeAccount(s string) string {
	s = strings.TrimSpace(s)
	if common.IsHexAddress(s) {
		return common.HexToAddress(s).Hex()
	}
	return s
}
