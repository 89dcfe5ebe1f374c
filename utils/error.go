package utils

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorValidation marks malformed or out-of-range input. Surface to the caller immediately.
var ErrorValidation = errors.New("validation error")

// ErrorConcurrencyConflict marks lock contention or a stale write. Callers may retry.
var ErrorConcurrencyConflict = errors.New("concurrency conflict")

// ErrorBroadcastFailure marks an unreachable broadcast transport. Always non-fatal:
// log it, never propagate it as a domain error.
var ErrorBroadcastFailure = errors.New("broadcast failure")

// InsufficientStockError aborts a consume call when the requested quantity
// exceeds the total remaining across a material's batches. It carries the
// shortfall so the caller can decide between aborting and partial consumption.
type InsufficientStockError struct {
	MaterialId int
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for material %d: requested %s, available %s",
		e.MaterialId, e.Requested, e.Available)
}

// Shortfall is the quantity that could not be satisfied.
func (e *InsufficientStockError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func IsInsufficientStock(err error) bool {
	var ise *InsufficientStockError
	return errors.As(err, &ise)
}

func ValidationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrorValidation, msg)
}
