// Package repositories defines the storage contracts consumed by the service
// layer together with their in-memory implementations. Inventory quantities
// are live mutable state guarded by an oversell policy, not a replay target:
// the ledger records movements, the repository owns the counters.
package repositories

import (
	"context"
	"fmt"
)

// InventoryAdjustment is one committed quantity change for a SKU.
type InventoryAdjustment struct {
	SKU    string
	OldQty float64
	NewQty float64
}

// InventoryRepository stores per-SKU quantity counters.
type InventoryRepository interface {
	// Quantities returns the current quantity for each requested SKU.
	// Unknown SKUs report zero.
	Quantities(ctx context.Context, skus []string) (map[string]float64, error)
	// Commit applies a batch of adjustments atomically.
	Commit(ctx context.Context, adjustments []InventoryAdjustment) error
	// SetQuantity seeds or overwrites a SKU counter and returns the previous
	// value.
	SetQuantity(ctx context.Context, sku string, qty float64) (float64, error)
}

// InventoryErrorCode classifies inventory repository failures.
type InventoryErrorCode string

const (
	// InventoryErrorInvalidInput marks malformed arguments (empty SKU).
	InventoryErrorInvalidInput InventoryErrorCode = "invalid_input"
	// InventoryErrorConflict marks a commit whose old quantities no longer
	// match the stored counters.
	InventoryErrorConflict InventoryErrorCode = "conflict"
)

// InventoryError carries a classified inventory storage failure.
type InventoryError struct {
	Code    InventoryErrorCode
	Message string
	Err     error
}

// NewInventoryError constructs an InventoryError.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	return &InventoryError{Code: code, Message: message, Err: err}
}

func (e *InventoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inventory %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("inventory %s: %s", e.Code, e.Message)
}

func (e *InventoryError) Unwrap() error { return e.Err }
