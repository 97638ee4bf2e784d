package services

import (
	"context"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
)

// SalesService finalizes tickets into the ledger. Finalize is idempotent per
// ticket: a replay is a safe no-op with no second inventory deduction or
// loyalty award.
type SalesService interface {
	Finalize(ctx context.Context, cmd FinalizeSaleCommand) (FinalizeSaleResult, error)
}

// PaymentService derives payment status from the ledger and reacts to
// provider webhooks idempotently.
type PaymentService interface {
	Initiate(ctx context.Context, cmd InitiatePaymentCommand) (InitiatePaymentResult, error)
	HandleWebhook(ctx context.Context, event PaymentWebhookEvent) (PaymentWebhookResult, error)
	Status(ctx context.Context, ticketID string) (PaymentStatus, error)
}

// InventoryService owns the live SKU counters and enforces the oversell
// policy when a finalized sale is applied.
type InventoryService interface {
	ApplySale(ctx context.Context, sale domain.SaleRecorded, policy OversellPolicy) (InventoryApplyResult, error)
	SetQuantity(ctx context.Context, sku string, qty float64) error
	Receive(ctx context.Context, sku string, qty float64, reference string) error
	Quantity(ctx context.Context, sku string) (float64, error)
}

// LoyaltyService accrues and redeems points through ledger events; balances
// are a projection over the customer's event history.
type LoyaltyService interface {
	Accrue(ctx context.Context, customerID, ticketID string, value domain.Cents) (int64, error)
	Redeem(ctx context.Context, customerID, ticketID string, points int64, value domain.Cents) error
	Balance(ctx context.Context, customerID string) (int64, error)
}
