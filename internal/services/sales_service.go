package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/ledger"
)

// ErrSaleInvalidInput signals a malformed finalization command.
var ErrSaleInvalidInput = errors.New("sale: invalid input")

// FinalizeSaleCommand finalizes a ticket: totals are computed, inventory is
// deducted under the oversell policy, the sale is appended to the ledger, and
// loyalty accrues for the customer if one is attached.
type FinalizeSaleCommand struct {
	TicketID   string
	Lines      []domain.SaleLine
	Discount   domain.Cents
	CustomerID string
	Policy     OversellPolicy
	Notes      string
}

// FinalizeSaleResult reports the recorded sale and its side effects.
type FinalizeSaleResult struct {
	Event         domain.Event
	Totals        domain.Totals
	Replayed      bool
	Inventory     InventoryApplyResult
	LoyaltyPoints int64
}

// SalesServiceDeps bundles the collaborators required to construct a
// salesService.
type SalesServiceDeps struct {
	Store     *ledger.Store
	Inventory InventoryService
	Loyalty   LoyaltyService
	// Policy is the default oversell policy when the command leaves it empty.
	Policy OversellPolicy
	// Tax, when set, recomputes the tax portion of the totals through the
	// jurisdiction-aware engine instead of the per-line rates.
	Tax    *TaxEngine
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type salesService struct {
	// mu serialises finalizations so two concurrent requests for the same
	// ticket cannot both pass the replay check and deduct inventory twice.
	mu        sync.Mutex
	store     *ledger.Store
	inventory InventoryService
	loyalty   LoyaltyService
	policy    OversellPolicy
	tax       *TaxEngine
	logger    func(context.Context, string, map[string]any)
}

// NewSalesService wires dependencies into a SalesService.
func NewSalesService(deps SalesServiceDeps) (SalesService, error) {
	if deps.Store == nil {
		return nil, errors.New("sales service: ledger store is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("sales service: inventory service is required")
	}
	if deps.Loyalty == nil {
		return nil, errors.New("sales service: loyalty service is required")
	}
	policy := deps.Policy
	if policy == "" {
		policy = OversellBlock
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &salesService{
		store:     deps.Store,
		inventory: deps.Inventory,
		loyalty:   deps.Loyalty,
		policy:    policy,
		tax:       deps.Tax,
		logger:    logger,
	}, nil
}

func finalizeKey(ticketID string) string {
	return fmt.Sprintf("ticket:%s:finalize", ticketID)
}

// applyTaxEngine replaces the per-line tax with the engine's quote for the
// configured jurisdiction, keeping total = subtotal - discount + tax.
func (s *salesService) applyTaxEngine(ctx context.Context, cmd FinalizeSaleCommand, totals domain.Totals) (domain.Totals, error) {
	items := make([]TaxItem, len(cmd.Lines))
	for i, line := range cmd.Lines {
		items[i] = TaxItem{
			ID:    fmt.Sprintf("%s:%d", line.SKU, i),
			SKU:   line.SKU,
			Price: line.Price,
			Qty:   line.Qty,
		}
	}
	req := TaxCalculationRequest{Items: items}
	if customerID := strings.TrimSpace(cmd.CustomerID); customerID != "" {
		req.Customer = &domain.TaxCustomer{ID: customerID}
	}
	quote, err := s.tax.Calculate(ctx, req)
	if err != nil {
		return domain.Totals{}, fmt.Errorf("%w: %v", ErrSaleInvalidInput, err)
	}
	totals.Tax = domain.CentsFromDecimal(quote.Total)
	totals.Total = totals.Subtotal - totals.Discount + totals.Tax
	return totals, nil
}

// Finalize records the sale exactly once per ticket: the sale.recorded
// append happens first, side effects only run against the recorded event. A
// replay with the same cart returns the stored event and re-applies only the
// side effects still pending (inventory deductions are keyed per SKU, the
// loyalty award per ticket, so nothing runs twice); a replay with a
// different cart fails with the ledger's idempotency conflict.
//
// When the oversell policy blocks the deduction, the returned result still
// carries the recorded event alongside ErrOversellBlocked: the ledger stays
// authoritative, and the same finalize can be retried after restocking to
// apply the pending inventory movements.
func (s *salesService) Finalize(ctx context.Context, cmd FinalizeSaleCommand) (FinalizeSaleResult, error) {
	cmd.TicketID = strings.TrimSpace(cmd.TicketID)
	if cmd.TicketID == "" {
		return FinalizeSaleResult{}, fmt.Errorf("%w: ticket id is required", ErrSaleInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return FinalizeSaleResult{}, fmt.Errorf("%w: sale has no lines", ErrSaleInvalidInput)
	}

	cartLines := make([]CartLine, len(cmd.Lines))
	for i, line := range cmd.Lines {
		cartLines[i] = CartLine{Price: line.Price, Qty: line.Qty, TaxRate: line.TaxRate}
	}
	totals, err := ComputeTotals(cartLines, cmd.Discount)
	if err != nil {
		return FinalizeSaleResult{}, fmt.Errorf("%w: %v", ErrSaleInvalidInput, err)
	}
	if s.tax != nil {
		totals, err = s.applyTaxEngine(ctx, cmd, totals)
		if err != nil {
			return FinalizeSaleResult{}, err
		}
	}

	payload := domain.SaleRecorded{
		TicketID:   cmd.TicketID,
		Lines:      cmd.Lines,
		Totals:     totals,
		CustomerID: strings.TrimSpace(cmd.CustomerID),
		Notes:      cmd.Notes,
	}
	opts := ledger.AppendOptions{
		Key:       finalizeKey(cmd.TicketID),
		Aggregate: domain.AggregateRef{ID: cmd.TicketID, Type: "ticket"},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Record first. Until the append succeeds, no counter moves and no
	// points accrue, so a failed append leaves nothing to unwind and a
	// retry starts clean. The append also settles whether this is a clean
	// replay or a conflicting cart.
	result, err := s.store.Append(ctx, domain.EventSaleRecorded, payload, opts)
	if err != nil {
		return FinalizeSaleResult{}, fmt.Errorf("record sale: %w", err)
	}

	out := FinalizeSaleResult{Event: result.Event, Totals: totals, Replayed: result.Deduped}
	if result.Deduped {
		s.logger(ctx, "sale_finalize_replayed", map[string]any{
			"ticketId": cmd.TicketID,
			"seq":      result.Event.Seq,
		})
	}

	policy := cmd.Policy
	if policy == "" {
		policy = s.policy
	}

	// The per-SKU movement keys make this a no-op for deductions already on
	// the ledger; on a replay only the movements a blocked or interrupted
	// earlier attempt left pending are applied.
	applied, err := s.inventory.ApplySale(ctx, payload, policy)
	if err != nil {
		if errors.Is(err, ErrOversellBlocked) {
			s.logger(ctx, "sale_inventory_blocked", map[string]any{
				"ticketId": cmd.TicketID,
				"seq":      result.Event.Seq,
				"error":    err.Error(),
			})
		}
		return out, err
	}
	out.Inventory = applied

	if payload.CustomerID != "" {
		points, err := s.loyalty.Accrue(ctx, payload.CustomerID, cmd.TicketID, totals.Total)
		if err != nil {
			// The sale is recorded; a failed accrual must not unwind it.
			s.logger(ctx, "sale_loyalty_accrual_failed", map[string]any{
				"ticketId":   cmd.TicketID,
				"customerId": payload.CustomerID,
				"error":      err.Error(),
			})
		} else {
			out.LoyaltyPoints = points
		}
	}

	if !result.Deduped {
		s.logger(ctx, "sale_finalized", map[string]any{
			"ticketId": cmd.TicketID,
			"seq":      result.Event.Seq,
			"total":    int64(totals.Total),
			"alerts":   len(applied.Alerts),
		})
	}

	return out, nil
}
