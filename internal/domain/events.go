package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a ledger event variant. The set is closed: every type
// maps to exactly one payload struct, and folds dispatch over it exhaustively.
type EventType string

const (
	EventSaleRecorded      EventType = "sale.recorded"
	EventPaymentInitiated  EventType = "payment.initiated"
	EventPaymentSucceeded  EventType = "payment.succeeded"
	EventPaymentFailed     EventType = "payment.failed"
	EventLoyaltyAccrued    EventType = "loyalty.accrued"
	EventLoyaltyRedeemed   EventType = "loyalty.redeemed"
	EventInventoryAdjusted EventType = "inventory.adjusted"
)

// AggregateRef scopes an event to the logical entity whose history it belongs
// to (ticket, payment, customer, sku).
type AggregateRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Event is a single immutable entry in the transaction ledger. Seq is assigned
// at append time and is strictly monotonic within a store; ID is a stable
// external identifier (ULID).
type Event struct {
	ID        string       `json:"id"`
	Seq       int64        `json:"seq"`
	Type      EventType    `json:"type"`
	At        time.Time    `json:"at"`
	Aggregate AggregateRef `json:"aggregate"`
	Payload   Payload      `json:"payload"`
}

// Payload is implemented by every event payload variant.
type Payload interface {
	EventType() EventType
}

// SaleLine is one cart line inside a recorded sale.
type SaleLine struct {
	SKU     string  `json:"sku"`
	Name    string  `json:"name,omitempty"`
	Qty     float64 `json:"qty"`
	Price   Cents   `json:"price"`
	TaxRate float64 `json:"taxRate"`
}

// SaleRecorded is the payload of a finalized sale.
type SaleRecorded struct {
	TicketID   string     `json:"ticketId"`
	Lines      []SaleLine `json:"lines"`
	Totals     Totals     `json:"totals"`
	CustomerID string     `json:"customerId,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

func (SaleRecorded) EventType() EventType { return EventSaleRecorded }

// PaymentInitiated records that an external payment session has been opened
// for a ticket.
type PaymentInitiated struct {
	TicketID  string `json:"ticketId"`
	Provider  string `json:"provider"`
	SessionID string `json:"sessionId"`
	Amount    Cents  `json:"amount"`
	Currency  string `json:"currency"`
}

func (PaymentInitiated) EventType() EventType { return EventPaymentInitiated }

// PaymentSucceeded is the terminal success outcome reported by the provider.
type PaymentSucceeded struct {
	TicketID  string `json:"ticketId"`
	Provider  string `json:"provider"`
	SessionID string `json:"sessionId"`
	Amount    Cents  `json:"amount"`
	Currency  string `json:"currency"`
}

func (PaymentSucceeded) EventType() EventType { return EventPaymentSucceeded }

// PaymentFailed is the terminal failure outcome reported by the provider.
type PaymentFailed struct {
	TicketID  string `json:"ticketId"`
	Provider  string `json:"provider"`
	SessionID string `json:"sessionId"`
	Amount    Cents  `json:"amount"`
	Currency  string `json:"currency"`
	Reason    string `json:"reason,omitempty"`
}

func (PaymentFailed) EventType() EventType { return EventPaymentFailed }

// LoyaltyAccrued awards points for a finalized sale.
type LoyaltyAccrued struct {
	CustomerID string `json:"customerId"`
	TicketID   string `json:"ticketId"`
	Points     int64  `json:"points"`
	Value      Cents  `json:"value,omitempty"`
}

func (LoyaltyAccrued) EventType() EventType { return EventLoyaltyAccrued }

// LoyaltyRedeemed burns points against a sale.
type LoyaltyRedeemed struct {
	CustomerID string `json:"customerId"`
	TicketID   string `json:"ticketId"`
	Points     int64  `json:"points"`
	Value      Cents  `json:"value,omitempty"`
}

func (LoyaltyRedeemed) EventType() EventType { return EventLoyaltyRedeemed }

// InventoryAdjusted is the movement record emitted for each committed stock
// deduction or receipt.
type InventoryAdjusted struct {
	SKU       string  `json:"sku"`
	OldQty    float64 `json:"oldQty"`
	NewQty    float64 `json:"newQty"`
	Reason    string  `json:"reason"`
	Reference string  `json:"reference,omitempty"`
}

func (InventoryAdjusted) EventType() EventType { return EventInventoryAdjusted }

// DecodePayload unmarshals raw payload bytes into the variant matching the
// event type. Storage adapters use it when rehydrating events.
func DecodePayload(t EventType, data []byte) (Payload, error) {
	decode := func(v Payload) (Payload, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return v, nil
	}

	switch t {
	case EventSaleRecorded:
		return decode(&SaleRecorded{})
	case EventPaymentInitiated:
		return decode(&PaymentInitiated{})
	case EventPaymentSucceeded:
		return decode(&PaymentSucceeded{})
	case EventPaymentFailed:
		return decode(&PaymentFailed{})
	case EventLoyaltyAccrued:
		return decode(&LoyaltyAccrued{})
	case EventLoyaltyRedeemed:
		return decode(&LoyaltyRedeemed{})
	case EventInventoryAdjusted:
		return decode(&InventoryAdjusted{})
	default:
		return nil, fmt.Errorf("decode payload: unknown event type %q", t)
	}
}
