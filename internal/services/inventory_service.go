package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/ledger"
	"github.com/Montivagant/rmsv3-sub002/internal/repositories"
)

// OversellPolicy decides what happens when a sale would take a SKU below
// zero.
type OversellPolicy string

const (
	// OversellBlock refuses the deduction; no counter moves.
	OversellBlock OversellPolicy = "block"
	// OversellAllowNegativeAlert applies the deduction, lets the counter go
	// negative, and raises an alert for each affected SKU.
	OversellAllowNegativeAlert OversellPolicy = "allow_negative_alert"
	// OversellAllow applies the deduction silently.
	OversellAllow OversellPolicy = "allow"
)

var (
	// ErrInventoryInvalidInput signals malformed inventory arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryPolicy signals an oversell policy outside the known set.
	ErrInventoryPolicy = errors.New("inventory: unknown oversell policy")
	// ErrOversellBlocked is returned under the block policy when a deduction
	// would drive at least one SKU negative. No counters are changed, so the
	// caller may retry the same sale after stock is corrected.
	ErrOversellBlocked = errors.New("inventory: oversell blocked")
)

// OversellAlert reports a SKU that went negative under the
// allow_negative_alert policy.
type OversellAlert struct {
	SKU       string  `json:"sku"`
	Requested float64 `json:"requested"`
	Available float64 `json:"available"`
	NewQty    float64 `json:"newQty"`
}

// InventoryApplyResult reports the committed movements and any negative-stock
// alerts for one applied sale.
type InventoryApplyResult struct {
	Adjustments []domain.InventoryAdjusted
	Alerts      []OversellAlert
}

// InventoryServiceDeps bundles the collaborators required to construct an
// inventoryService.
type InventoryServiceDeps struct {
	Repository repositories.InventoryRepository
	Store      *ledger.Store
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	// mu serialises read-compute-commit cycles so two concurrent sales
	// cannot both pass the oversell check against the same stale counter.
	mu     sync.Mutex
	repo   repositories.InventoryRepository
	store  *ledger.Store
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into an InventoryService.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Repository == nil {
		return nil, errors.New("inventory service: repository is required")
	}
	if deps.Store == nil {
		return nil, errors.New("inventory service: ledger store is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo:   deps.Repository,
		store:  deps.Store,
		logger: logger,
	}, nil
}

// saleMovementKey dedupes the per-SKU deduction of one ticket, so a retried
// sale application cannot move the same counter twice.
func saleMovementKey(ticketID, sku string) string {
	return fmt.Sprintf("ticket:%s:inventory:%s", ticketID, sku)
}

// ApplySale deducts the sale's line quantities from stock under the given
// policy. Under block, the whole sale is refused before any counter moves.
// The application is idempotent per ticket: SKUs whose movement is already
// on the ledger are skipped, so a retry after a partial failure only applies
// the deductions still pending.
func (s *inventoryService) ApplySale(ctx context.Context, sale domain.SaleRecorded, policy OversellPolicy) (InventoryApplyResult, error) {
	switch policy {
	case OversellBlock, OversellAllowNegativeAlert, OversellAllow:
	default:
		return InventoryApplyResult{}, fmt.Errorf("%w: %q", ErrInventoryPolicy, policy)
	}

	ticketID := strings.TrimSpace(sale.TicketID)
	if ticketID == "" {
		return InventoryApplyResult{}, fmt.Errorf("%w: sale has no ticket id", ErrInventoryInvalidInput)
	}

	needed, skus, err := aggregateLineQuantities(sale.Lines)
	if err != nil {
		return InventoryApplyResult{}, err
	}
	if len(skus) == 0 {
		return InventoryApplyResult{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]string, 0, len(skus))
	for _, sku := range skus {
		if _, found, err := s.store.Lookup(ctx, saleMovementKey(ticketID, sku)); err != nil {
			return InventoryApplyResult{}, fmt.Errorf("check movement for %s: %w", sku, err)
		} else if !found {
			pending = append(pending, sku)
		}
	}
	if len(pending) == 0 {
		return InventoryApplyResult{}, nil
	}

	current, err := s.repo.Quantities(ctx, pending)
	if err != nil {
		return InventoryApplyResult{}, fmt.Errorf("read quantities: %w", err)
	}

	result := InventoryApplyResult{}
	batch := make([]repositories.InventoryAdjustment, 0, len(pending))
	var blocked []string

	for _, sku := range pending {
		available := current[sku]
		newQty := available - needed[sku]
		if newQty < 0 {
			switch policy {
			case OversellBlock:
				blocked = append(blocked, sku)
				continue
			case OversellAllowNegativeAlert:
				result.Alerts = append(result.Alerts, OversellAlert{
					SKU:       sku,
					Requested: needed[sku],
					Available: available,
					NewQty:    newQty,
				})
			}
		}
		batch = append(batch, repositories.InventoryAdjustment{SKU: sku, OldQty: available, NewQty: newQty})
	}

	if len(blocked) > 0 {
		// blocked keeps line order, so the first entry is the first
		// offending SKU the cart named.
		detail := ""
		if len(blocked) > 1 {
			detail = fmt.Sprintf(" (also short: %s)", strings.Join(blocked[1:], ", "))
		}
		return InventoryApplyResult{}, fmt.Errorf("%w: insufficient stock for %s%s",
			ErrOversellBlocked, blocked[0], detail)
	}

	// The movement event is the authoritative record; each counter commit
	// follows its event. A deduped append means a concurrent application of
	// the same ticket already claimed that SKU.
	for _, adj := range batch {
		movement := domain.InventoryAdjusted{
			SKU:       adj.SKU,
			OldQty:    adj.OldQty,
			NewQty:    adj.NewQty,
			Reason:    "sale",
			Reference: ticketID,
		}
		appended, err := s.store.Append(ctx, domain.EventInventoryAdjusted, movement, ledger.AppendOptions{
			Key:       saleMovementKey(ticketID, adj.SKU),
			Aggregate: domain.AggregateRef{ID: adj.SKU, Type: "sku"},
		})
		if err != nil {
			return result, fmt.Errorf("record movement for %s: %w", adj.SKU, err)
		}
		if appended.Deduped {
			continue
		}
		if err := s.repo.Commit(ctx, []repositories.InventoryAdjustment{adj}); err != nil {
			return result, fmt.Errorf("commit adjustment for %s: %w", adj.SKU, err)
		}
		result.Adjustments = append(result.Adjustments, movement)
	}

	for _, alert := range result.Alerts {
		s.logger(ctx, "inventory_negative_stock", map[string]any{
			"sku":       alert.SKU,
			"requested": alert.Requested,
			"available": alert.Available,
			"newQty":    alert.NewQty,
			"ticketId":  ticketID,
		})
	}

	return result, nil
}

// SetQuantity seeds or corrects a counter and records the movement.
func (s *inventoryService) SetQuantity(ctx context.Context, sku string, qty float64) error {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return fmt.Errorf("%w: sku is required", ErrInventoryInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.repo.SetQuantity(ctx, sku, qty)
	if err != nil {
		return fmt.Errorf("set quantity: %w", err)
	}
	if old == qty {
		return nil
	}
	return s.appendMovement(ctx, domain.InventoryAdjusted{
		SKU:    sku,
		OldQty: old,
		NewQty: qty,
		Reason: "set",
	})
}

// Receive adds delivered stock to a counter.
func (s *inventoryService) Receive(ctx context.Context, sku string, qty float64, reference string) error {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return fmt.Errorf("%w: sku is required", ErrInventoryInvalidInput)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: received quantity must be positive", ErrInventoryInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.Quantities(ctx, []string{sku})
	if err != nil {
		return fmt.Errorf("read quantities: %w", err)
	}
	old := current[sku]
	newQty := old + qty

	if err := s.repo.Commit(ctx, []repositories.InventoryAdjustment{{SKU: sku, OldQty: old, NewQty: newQty}}); err != nil {
		return fmt.Errorf("commit receipt: %w", err)
	}
	return s.appendMovement(ctx, domain.InventoryAdjusted{
		SKU:       sku,
		OldQty:    old,
		NewQty:    newQty,
		Reason:    "receive",
		Reference: reference,
	})
}

// Quantity reads the live counter for one SKU.
func (s *inventoryService) Quantity(ctx context.Context, sku string) (float64, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return 0, fmt.Errorf("%w: sku is required", ErrInventoryInvalidInput)
	}
	quantities, err := s.repo.Quantities(ctx, []string{sku})
	if err != nil {
		return 0, fmt.Errorf("read quantities: %w", err)
	}
	return quantities[sku], nil
}

func (s *inventoryService) appendMovement(ctx context.Context, movement domain.InventoryAdjusted) error {
	_, err := s.store.Append(ctx, domain.EventInventoryAdjusted, movement, ledger.AppendOptions{
		Aggregate: domain.AggregateRef{ID: movement.SKU, Type: "sku"},
	})
	if err != nil {
		return fmt.Errorf("record movement for %s: %w", movement.SKU, err)
	}
	return nil
}

// aggregateLineQuantities sums line quantities per SKU. SKUs come back in
// the order the cart first names them, so downstream errors can point at the
// first offending line.
func aggregateLineQuantities(lines []domain.SaleLine) (map[string]float64, []string, error) {
	needed := make(map[string]float64, len(lines))
	skus := make([]string, 0, len(lines))
	for i, line := range lines {
		sku := strings.TrimSpace(line.SKU)
		if sku == "" {
			return nil, nil, fmt.Errorf("%w: line %d has no sku", ErrInventoryInvalidInput, i)
		}
		if line.Qty < 0 {
			return nil, nil, fmt.Errorf("%w: line %d quantity cannot be negative", ErrInventoryInvalidInput, i)
		}
		if _, seen := needed[sku]; !seen {
			skus = append(skus, sku)
		}
		needed[sku] += line.Qty
	}
	return needed, skus, nil
}
