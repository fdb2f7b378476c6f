// Package venue executes settled batches on an external execution venue.
package venue

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/url"

	"github.com/shopspring/decimal"
)

// Order is the aggregate swap the venue is asked to fill for one batch
type Order struct {
	BatchID        uint64
	Route          string
	TokenIn        string
	TokenOut       string
	TotalMinOutput *big.Int
	IntentCount    int
}

// Report is what the venue delivered for an order
type Report struct {
	ActualOutput   *big.Int
	ExecutionPrice decimal.Decimal
}

// Validate rejects a report the ledger cannot settle: a missing report, a
// missing or negative output, or a negative price
func (r *Report) Validate() error {
	if r == nil {
		return &RejectedError{Reason: "empty report"}
	}
	if r.ActualOutput == nil {
		return &RejectedError{Reason: "missing actual output"}
	}
	if r.ActualOutput.Sign() < 0 {
		return &RejectedError{Reason: fmt.Sprintf("negative actual output %s", r.ActualOutput)}
	}
	if r.ExecutionPrice.IsNegative() {
		return &RejectedError{Reason: fmt.Sprintf("negative execution price %s", r.ExecutionPrice)}
	}
	return nil
}

// Venue executes batch orders
type Venue interface {
	Execute(ctx context.Context, order Order) (*Report, error)
}

// RejectedError is returned when the venue refused the order
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("venue rejected order (status %d): %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("venue rejected order: %s", e.Reason)
}

// Error types reported in metrics and logs
const (
	ErrorTypeRejected = "venue_rejected"
	ErrorTypeTimeout  = "timeout"
	ErrorTypeNetwork  = "network_error"
	ErrorTypeUnknown  = "unknown_error"
)

// ClassifyError maps a venue failure to one of the ErrorType constants
func ClassifyError(err error) string {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return ErrorTypeRejected
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorTypeNetwork
	}
	return ErrorTypeUnknown
}
