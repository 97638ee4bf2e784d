package di

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/config"
	"github.com/Montivagant/rmsv3-sub002/internal/services"
)

func memoryConfig() config.Config {
	return config.Config{
		Ledger:    config.LedgerConfig{Backend: "memory"},
		Inventory: config.InventoryConfig{OversellPolicy: "block"},
		Loyalty:   config.LoyaltyConfig{PointsPerUnit: 1},
	}
}

func TestNewContainerMemoryBackend(t *testing.T) {
	ctx := context.Background()

	container, err := NewContainer(ctx, memoryConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}
	t.Cleanup(func() {
		if err := container.Close(ctx); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})

	if container.Store == nil {
		t.Fatalf("expected ledger store")
	}
	if container.Services.Sales == nil || container.Services.Inventory == nil || container.Services.Loyalty == nil {
		t.Fatalf("expected core services, got %+v", container.Services)
	}
	// No PSP key configured, so no payment service is assembled.
	if container.Services.Payments != nil {
		t.Fatalf("expected no payment service without a stripe key")
	}
}

func TestNewContainerRejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Ledger.Backend = "dynamo"

	if _, err := NewContainer(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected error for unknown ledger backend")
	}
}

func TestNewContainerBuildsStripeService(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.PSP.StripeAPIKey = "sk_test_123"

	container, err := NewContainer(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}
	t.Cleanup(func() { _ = container.Close(ctx) })

	if container.Services.Payments == nil {
		t.Fatalf("expected payment service with stripe key configured")
	}
}

func TestContainerFinalizeFlow(t *testing.T) {
	ctx := context.Background()

	container, err := NewContainer(ctx, memoryConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}
	t.Cleanup(func() { _ = container.Close(ctx) })

	if err := container.Services.Inventory.SetQuantity(ctx, "espresso", 5); err != nil {
		t.Fatalf("SetQuantity() error = %v", err)
	}
	result, err := container.Services.Sales.Finalize(ctx, services.FinalizeSaleCommand{
		TicketID: "t-1",
		Lines: []domain.SaleLine{
			{SKU: "espresso", Name: "Espresso", Qty: 2, Price: 350, TaxRate: 0.14},
		},
	})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if result.Event.Seq == 0 {
		t.Fatalf("expected sequenced sale event, got %+v", result.Event)
	}
}
