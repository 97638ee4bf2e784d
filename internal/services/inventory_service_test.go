package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/ledger"
	"github.com/Montivagant/rmsv3-sub002/internal/repositories"
)

func newTestInventoryService(t *testing.T) (InventoryService, *ledger.Store, repositories.InventoryRepository) {
	t.Helper()
	log := ledger.NewMemoryLog()
	store, err := ledger.NewStore(ledger.StoreDeps{Log: log})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	repo := repositories.NewMemoryInventoryRepository()
	svc, err := NewInventoryService(InventoryServiceDeps{Repository: repo, Store: store})
	if err != nil {
		t.Fatalf("NewInventoryService() error = %v", err)
	}
	return svc, store, repo
}

func seedSKU(t *testing.T, svc InventoryService, sku string, qty float64) {
	t.Helper()
	if err := svc.SetQuantity(context.Background(), sku, qty); err != nil {
		t.Fatalf("SetQuantity(%s) error = %v", sku, err)
	}
}

func TestInventoryApplySaleDeductsStock(t *testing.T) {
	svc, _, _ := newTestInventoryService(t)
	ctx := context.Background()
	seedSKU(t, svc, "espresso", 10)

	sale := domain.SaleRecorded{
		TicketID: "t-1",
		Lines:    []domain.SaleLine{{SKU: "espresso", Qty: 2, Price: 350}},
	}
	result, err := svc.ApplySale(ctx, sale, OversellBlock)
	if err != nil {
		t.Fatalf("ApplySale() error = %v", err)
	}
	if len(result.Adjustments) != 1 {
		t.Fatalf("adjustments = %d, want 1", len(result.Adjustments))
	}
	adj := result.Adjustments[0]
	if adj.OldQty != 10 || adj.NewQty != 8 || adj.Reference != "t-1" {
		t.Fatalf("unexpected adjustment %+v", adj)
	}

	qty, err := svc.Quantity(ctx, "espresso")
	if err != nil {
		t.Fatalf("Quantity() error = %v", err)
	}
	if qty != 8 {
		t.Fatalf("quantity = %v, want 8", qty)
	}
}

func TestInventoryApplySaleAggregatesRepeatedSKU(t *testing.T) {
	svc, _, _ := newTestInventoryService(t)
	ctx := context.Background()
	seedSKU(t, svc, "espresso", 5)

	sale := domain.SaleRecorded{
		TicketID: "t-2",
		Lines: []domain.SaleLine{
			{SKU: "espresso", Qty: 2, Price: 350},
			{SKU: "espresso", Qty: 1, Price: 350},
		},
	}
	result, err := svc.ApplySale(ctx, sale, OversellBlock)
	if err != nil {
		t.Fatalf("ApplySale() error = %v", err)
	}
	if len(result.Adjustments) != 1 {
		t.Fatalf("adjustments = %d, want 1 per SKU", len(result.Adjustments))
	}
	if result.Adjustments[0].NewQty != 2 {
		t.Fatalf("newQty = %v, want 2", result.Adjustments[0].NewQty)
	}
}

func TestInventoryBlockPolicyRefusesAndCommitsNothing(t *testing.T) {
	svc, store, _ := newTestInventoryService(t)
	ctx := context.Background()
	seedSKU(t, svc, "espresso", 5)
	seedSKU(t, svc, "latte", 1)

	before, err := store.Events(ctx)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}

	sale := domain.SaleRecorded{
		TicketID: "t-3",
		Lines: []domain.SaleLine{
			{SKU: "espresso", Qty: 2, Price: 350},
			{SKU: "latte", Qty: 3, Price: 450},
		},
	}
	_, err = svc.ApplySale(ctx, sale, OversellBlock)
	if !errors.Is(err, ErrOversellBlocked) {
		t.Fatalf("error = %v, want ErrOversellBlocked", err)
	}

	// Nothing committed: both counters untouched, no movement events.
	for sku, want := range map[string]float64{"espresso": 5, "latte": 1} {
		qty, err := svc.Quantity(ctx, sku)
		if err != nil {
			t.Fatalf("Quantity(%s) error = %v", sku, err)
		}
		if qty != want {
			t.Fatalf("%s quantity = %v, want %v", sku, qty, want)
		}
	}
	after, err := store.Events(ctx)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("blocked sale appended events: %d -> %d", len(before), len(after))
	}
}

func TestInventoryBlockedSaleRetriesAfterRestock(t *testing.T) {
	svc, _, _ := newTestInventoryService(t)
	ctx := context.Background()
	seedSKU(t, svc, "latte", 1)

	sale := domain.SaleRecorded{
		TicketID: "t-4",
		Lines:    []domain.SaleLine{{SKU: "latte", Qty: 3, Price: 450}},
	}
	if _, err := svc.ApplySale(ctx, sale, OversellBlock); !errors.Is(err, ErrOversellBlocked) {
		t.Fatalf("error = %v, want ErrOversellBlocked", err)
	}
	if err := svc.Receive(ctx, "latte", 5, "po-99"); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if _, err := svc.ApplySale(ctx, sale, OversellBlock); err != nil {
		t.Fatalf("retry after restock error = %v", err)
	}

	qty, err := svc.Quantity(ctx, "latte")
	if err != nil {
		t.Fatalf("Quantity() error = %v", err)
	}
	if qty != 3 {
		t.Fatalf("quantity = %v, want 3", qty)
	}
}

func TestInventoryApplySaleReplaySkipsAppliedSKUs(t *testing.T) {
	svc, store, _ := newTestInventoryService(t)
	ctx := context.Background()
	seedSKU(t, svc, "espresso", 10)
	seedSKU(t, svc, "latte", 10)

	sale := domain.SaleRecorded{
		TicketID: "t-8",
		Lines: []domain.SaleLine{
			{SKU: "espresso", Qty: 2, Price: 350},
			{SKU: "latte", Qty: 1, Price: 450},
		},
	}
	if _, err := svc.ApplySale(ctx, sale, OversellBlock); err != nil {
		t.Fatalf("ApplySale() error = %v", err)
	}
	before, err := store.Events(ctx)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}

	// Same ticket again: every movement is already on the ledger, so the
	// replay must not move a counter or append anything.
	result, err := svc.ApplySale(ctx, sale, OversellBlock)
	if err != nil {
		t.Fatalf("replay ApplySale() error = %v", err)
	}
	if len(result.Adjustments) != 0 {
		t.Fatalf("replay committed %d adjustments", len(result.Adjustments))
	}
	for sku, want := range map[string]float64{"espresso": 8, "latte": 9} {
		qty, err := svc.Quantity(ctx, sku)
		if err != nil {
			t.Fatalf("Quantity(%s) error = %v", sku, err)
		}
		if qty != want {
			t.Fatalf("%s quantity = %v, want %v", sku, qty, want)
		}
	}
	after, err := store.Events(ctx)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("replay appended events: %d -> %d", len(before), len(after))
	}
}

func TestInventoryBlockReportsFirstShortSKUInLineOrder(t *testing.T) {
	svc, _, _ := newTestInventoryService(t)
	ctx := context.Background()
	seedSKU(t, svc, "latte", 0)
	seedSKU(t, svc, "espresso", 0)

	// "latte" precedes "espresso" in the cart but not alphabetically; the
	// error must lead with the cart's first short SKU.
	sale := domain.SaleRecorded{
		TicketID: "t-9",
		Lines: []domain.SaleLine{
			{SKU: "latte", Qty: 1, Price: 450},
			{SKU: "espresso", Qty: 1, Price: 350},
		},
	}
	_, err := svc.ApplySale(ctx, sale, OversellBlock)
	if !errors.Is(err, ErrOversellBlocked) {
		t.Fatalf("error = %v, want ErrOversellBlocked", err)
	}
	if !strings.Contains(err.Error(), "insufficient stock for latte (also short: espresso)") {
		t.Fatalf("unexpected error message %q", err)
	}
}

func TestInventoryAllowNegativeAlertGoesNegativeWithAlert(t *testing.T) {
	svc, _, _ := newTestInventoryService(t)
	ctx := context.Background()
	seedSKU(t, svc, "espresso", 1)

	sale := domain.SaleRecorded{
		TicketID: "t-5",
		Lines:    []domain.SaleLine{{SKU: "espresso", Qty: 3, Price: 350}},
	}
	result, err := svc.ApplySale(ctx, sale, OversellAllowNegativeAlert)
	if err != nil {
		t.Fatalf("ApplySale() error = %v", err)
	}
	if len(result.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(result.Alerts))
	}
	alert := result.Alerts[0]
	if alert.SKU != "espresso" || alert.NewQty != -2 {
		t.Fatalf("unexpected alert %+v", alert)
	}

	qty, err := svc.Quantity(ctx, "espresso")
	if err != nil {
		t.Fatalf("Quantity() error = %v", err)
	}
	if qty != -2 {
		t.Fatalf("quantity = %v, want -2", qty)
	}
}

func TestInventoryAllowPolicySilent(t *testing.T) {
	svc, _, _ := newTestInventoryService(t)
	ctx := context.Background()
	seedSKU(t, svc, "espresso", 1)

	sale := domain.SaleRecorded{
		TicketID: "t-6",
		Lines:    []domain.SaleLine{{SKU: "espresso", Qty: 4, Price: 350}},
	}
	result, err := svc.ApplySale(ctx, sale, OversellAllow)
	if err != nil {
		t.Fatalf("ApplySale() error = %v", err)
	}
	if len(result.Alerts) != 0 {
		t.Fatalf("alerts = %d, want 0 under allow", len(result.Alerts))
	}
}

func TestInventoryUnknownPolicyRejected(t *testing.T) {
	svc, _, _ := newTestInventoryService(t)

	_, err := svc.ApplySale(context.Background(), domain.SaleRecorded{
		Lines: []domain.SaleLine{{SKU: "espresso", Qty: 1, Price: 350}},
	}, OversellPolicy("maybe"))
	if !errors.Is(err, ErrInventoryPolicy) {
		t.Fatalf("error = %v, want ErrInventoryPolicy", err)
	}
}

func TestInventoryMovementsRecordedPerSKU(t *testing.T) {
	svc, store, _ := newTestInventoryService(t)
	ctx := context.Background()
	seedSKU(t, svc, "espresso", 10)

	sale := domain.SaleRecorded{
		TicketID: "t-7",
		Lines:    []domain.SaleLine{{SKU: "espresso", Qty: 2, Price: 350}},
	}
	if _, err := svc.ApplySale(ctx, sale, OversellBlock); err != nil {
		t.Fatalf("ApplySale() error = %v", err)
	}

	events, err := store.EventsByAggregate(ctx, "espresso")
	if err != nil {
		t.Fatalf("EventsByAggregate() error = %v", err)
	}
	// One movement for the seed, one for the sale.
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	last, ok := events[len(events)-1].Payload.(domain.InventoryAdjusted)
	if !ok {
		t.Fatalf("payload type = %T, want InventoryAdjusted", events[len(events)-1].Payload)
	}
	if last.Reason != "sale" || last.Reference != "t-7" || last.NewQty != 8 {
		t.Fatalf("unexpected movement %+v", last)
	}
}

func TestInventoryReceiveValidation(t *testing.T) {
	svc, _, _ := newTestInventoryService(t)
	ctx := context.Background()

	if err := svc.Receive(ctx, "", 5, ""); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("empty sku error = %v, want ErrInventoryInvalidInput", err)
	}
	if err := svc.Receive(ctx, "espresso", 0, ""); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("zero qty error = %v, want ErrInventoryInvalidInput", err)
	}
}
