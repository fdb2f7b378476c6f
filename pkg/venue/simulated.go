package venue

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// Simulated fills every order locally at a fixed price, delivering the order's
// floor adjusted by SurplusBps basis points. A negative surplus under-fills.
type Simulated struct {
	Price      decimal.Decimal
	SurplusBps int64
}

// NewSimulated creates a local venue
func NewSimulated(price decimal.Decimal, surplusBps int64) *Simulated {
	return &Simulated{Price: price, SurplusBps: surplusBps}
}

func (s *Simulated) Execute(ctx context.Context, order Order) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	output := new(big.Int).Mul(order.TotalMinOutput, big.NewInt(10_000+s.SurplusBps))
	output.Quo(output, big.NewInt(10_000))
	if output.Sign() < 0 {
		output.SetInt64(0)
	}
	return &Report{ActualOutput: output, ExecutionPrice: s.Price}, nil
}
