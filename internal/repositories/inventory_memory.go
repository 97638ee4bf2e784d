package repositories

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryInventoryRepository keeps SKU counters in memory. Production
// deployments substitute a durable implementation behind the same interface.
type MemoryInventoryRepository struct {
	mu         sync.RWMutex
	quantities map[string]float64
}

// NewMemoryInventoryRepository constructs an empty in-memory counter store.
func NewMemoryInventoryRepository() *MemoryInventoryRepository {
	return &MemoryInventoryRepository{quantities: make(map[string]float64)}
}

// Quantities implements InventoryRepository.
func (r *MemoryInventoryRepository) Quantities(_ context.Context, skus []string) (map[string]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]float64, len(skus))
	for _, sku := range skus {
		sku = strings.TrimSpace(sku)
		if sku == "" {
			return nil, NewInventoryError(InventoryErrorInvalidInput, "sku is required", nil)
		}
		out[sku] = r.quantities[sku]
	}
	return out, nil
}

// Commit implements InventoryRepository. The batch applies atomically: if any
// adjustment's old quantity no longer matches the stored counter, nothing is
// written.
func (r *MemoryInventoryRepository) Commit(_ context.Context, adjustments []InventoryAdjustment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, adj := range adjustments {
		sku := strings.TrimSpace(adj.SKU)
		if sku == "" {
			return NewInventoryError(InventoryErrorInvalidInput, "sku is required", nil)
		}
		if current := r.quantities[sku]; current != adj.OldQty {
			return NewInventoryError(InventoryErrorConflict,
				fmt.Sprintf("sku %s changed concurrently: expected %v, have %v", sku, adj.OldQty, current), nil)
		}
	}
	for _, adj := range adjustments {
		r.quantities[strings.TrimSpace(adj.SKU)] = adj.NewQty
	}
	return nil
}

// SetQuantity implements InventoryRepository.
func (r *MemoryInventoryRepository) SetQuantity(_ context.Context, sku string, qty float64) (float64, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return 0, NewInventoryError(InventoryErrorInvalidInput, "sku is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.quantities[sku]
	r.quantities[sku] = qty
	return old, nil
}
