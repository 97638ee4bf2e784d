package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/ledger"
	"github.com/Montivagant/rmsv3-sub002/internal/payments"
)

var (
	// ErrPaymentInvalidInput signals malformed payment arguments.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentUnknownTicket is returned when a webhook cannot be tied to
	// any initiated payment.
	ErrPaymentUnknownTicket = errors.New("payment: unknown ticket")
)

// PaymentState is the folded progress of a ticket's payment.
type PaymentState string

const (
	// PaymentStateNone means no payment was ever initiated for the ticket.
	PaymentStateNone PaymentState = "none"
	// PaymentStatePending means a session was opened and no terminal outcome
	// has arrived for it yet.
	PaymentStatePending PaymentState = "pending"
	// PaymentStatePaid means the latest attempt succeeded.
	PaymentStatePaid PaymentState = "paid"
	// PaymentStateFailed means the latest attempt failed.
	PaymentStateFailed PaymentState = "failed"
)

// InitiatePaymentCommand opens a checkout session for a ticket.
type InitiatePaymentCommand struct {
	TicketID   string
	Amount     domain.Cents
	Currency   string
	CustomerID string
	Provider   string
	SuccessURL string
	CancelURL  string
	Lines      []domain.SaleLine
}

// InitiatePaymentResult carries the opened session back to the caller.
type InitiatePaymentResult struct {
	Session payments.CheckoutSession
	Event   domain.Event
}

// PaymentWebhookEvent is a verified provider notification.
type PaymentWebhookEvent struct {
	Provider  string
	EventID   string
	EventType string
	Outcome   payments.WebhookOutcome
	SessionID string
	IntentID  string
	TicketID  string
	Amount    domain.Cents
	Currency  string
	Reason    string
}

// PaymentWebhookResult reports what a webhook delivery did.
type PaymentWebhookResult struct {
	Event   domain.Event
	Deduped bool
}

// PaymentStatus is the fold of a ticket's payment history.
type PaymentStatus struct {
	TicketID  string       `json:"ticketId"`
	State     PaymentState `json:"state"`
	Provider  string       `json:"provider,omitempty"`
	SessionID string       `json:"sessionId,omitempty"`
	Amount    domain.Cents `json:"amount,omitempty"`
	Currency  string       `json:"currency,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Attempts  int          `json:"attempts"`
}

// PaymentServiceDeps bundles the collaborators required to construct a
// paymentService.
type PaymentServiceDeps struct {
	Store   *ledger.Store
	Manager *payments.Manager
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	store   *ledger.Store
	manager *payments.Manager
	logger  func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a PaymentService.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Store == nil {
		return nil, errors.New("payment service: ledger store is required")
	}
	if deps.Manager == nil {
		return nil, errors.New("payment service: provider manager is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{store: deps.Store, manager: deps.Manager, logger: logger}, nil
}

// Initiate opens a provider checkout session and records payment.initiated.
func (s *paymentService) Initiate(ctx context.Context, cmd InitiatePaymentCommand) (InitiatePaymentResult, error) {
	cmd.TicketID = strings.TrimSpace(cmd.TicketID)
	if cmd.TicketID == "" {
		return InitiatePaymentResult{}, fmt.Errorf("%w: ticket id is required", ErrPaymentInvalidInput)
	}
	if cmd.Amount <= 0 {
		return InitiatePaymentResult{}, fmt.Errorf("%w: amount must be positive", ErrPaymentInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		return InitiatePaymentResult{}, fmt.Errorf("%w: currency is required", ErrPaymentInvalidInput)
	}

	items := make([]payments.CheckoutLineItem, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		qty := int64(line.Qty)
		if qty < 1 {
			qty = 1
		}
		items = append(items, payments.CheckoutLineItem{
			Name:     line.Name,
			SKU:      line.SKU,
			Quantity: qty,
			Amount:   int64(line.Price),
			Currency: currency,
		})
	}

	session, err := s.manager.CreateCheckoutSession(ctx,
		payments.PaymentContext{PreferredProvider: cmd.Provider, Currency: currency},
		payments.CheckoutSessionRequest{
			TicketID:       cmd.TicketID,
			Amount:         int64(cmd.Amount),
			Currency:       currency,
			CustomerID:     cmd.CustomerID,
			SuccessURL:     cmd.SuccessURL,
			CancelURL:      cmd.CancelURL,
			IdempotencyKey: fmt.Sprintf("ticket-%s-checkout", cmd.TicketID),
			Items:          items,
		})
	if err != nil {
		return InitiatePaymentResult{}, fmt.Errorf("open checkout session: %w", err)
	}

	payload := domain.PaymentInitiated{
		TicketID:  cmd.TicketID,
		Provider:  session.Provider,
		SessionID: session.ID,
		Amount:    cmd.Amount,
		Currency:  currency,
	}
	result, err := s.store.Append(ctx, domain.EventPaymentInitiated, payload, ledger.AppendOptions{
		Key:       fmt.Sprintf("payment:%s:%s:initiated", session.Provider, session.ID),
		Aggregate: domain.AggregateRef{ID: cmd.TicketID, Type: "ticket"},
	})
	if err != nil {
		return InitiatePaymentResult{}, fmt.Errorf("record initiation: %w", err)
	}

	s.logger(ctx, "payment_initiated", map[string]any{
		"ticketId":  cmd.TicketID,
		"provider":  session.Provider,
		"sessionId": session.ID,
		"amount":    int64(cmd.Amount),
	})

	return InitiatePaymentResult{Session: session, Event: result.Event}, nil
}

// HandleWebhook appends the terminal outcome carried by a verified provider
// notification. Deliveries are deduplicated on provider, session, and event
// type, so provider retries cannot double-record an outcome.
func (s *paymentService) HandleWebhook(ctx context.Context, event PaymentWebhookEvent) (PaymentWebhookResult, error) {
	if strings.TrimSpace(event.Provider) == "" || strings.TrimSpace(event.SessionID) == "" {
		return PaymentWebhookResult{}, fmt.Errorf("%w: provider and session id are required", ErrPaymentInvalidInput)
	}

	ticketID := strings.TrimSpace(event.TicketID)
	if ticketID == "" {
		resolved, err := s.ticketForSession(ctx, event.Provider, event.SessionID)
		if err != nil {
			return PaymentWebhookResult{}, err
		}
		ticketID = resolved
	}

	var (
		eventType domain.EventType
		payload   domain.Payload
	)
	switch event.Outcome {
	case payments.WebhookOutcomeSucceeded:
		eventType = domain.EventPaymentSucceeded
		payload = domain.PaymentSucceeded{
			TicketID:  ticketID,
			Provider:  event.Provider,
			SessionID: event.SessionID,
			Amount:    event.Amount,
			Currency:  event.Currency,
		}
	case payments.WebhookOutcomeFailed:
		eventType = domain.EventPaymentFailed
		payload = domain.PaymentFailed{
			TicketID:  ticketID,
			Provider:  event.Provider,
			SessionID: event.SessionID,
			Amount:    event.Amount,
			Currency:  event.Currency,
			Reason:    event.Reason,
		}
	default:
		return PaymentWebhookResult{}, fmt.Errorf("%w: unknown outcome %q", ErrPaymentInvalidInput, event.Outcome)
	}

	result, err := s.store.Append(ctx, eventType, payload, ledger.AppendOptions{
		Key:       fmt.Sprintf("webhook:%s:%s:%s", event.Provider, event.SessionID, event.EventType),
		Aggregate: domain.AggregateRef{ID: ticketID, Type: "ticket"},
	})
	if err != nil {
		return PaymentWebhookResult{}, fmt.Errorf("record webhook outcome: %w", err)
	}

	s.logger(ctx, "payment_webhook_handled", map[string]any{
		"ticketId":  ticketID,
		"provider":  event.Provider,
		"sessionId": event.SessionID,
		"outcome":   string(event.Outcome),
		"deduped":   result.Deduped,
	})

	return PaymentWebhookResult{Event: result.Event, Deduped: result.Deduped}, nil
}

// Status folds the ticket's payment history. The fold anchors on the latest
// payment.initiated event: only outcomes recorded after it count, so opening
// a fresh session supersedes any earlier success or failure.
func (s *paymentService) Status(ctx context.Context, ticketID string) (PaymentStatus, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return PaymentStatus{}, fmt.Errorf("%w: ticket id is required", ErrPaymentInvalidInput)
	}

	events, err := s.store.EventsByAggregate(ctx, ticketID)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("load ticket history: %w", err)
	}

	status := PaymentStatus{TicketID: ticketID, State: PaymentStateNone}
	anchor := -1
	for i, event := range events {
		if p, ok := payloadValue(event.Payload).(domain.PaymentInitiated); ok {
			anchor = i
			status.Attempts++
			status.Provider = p.Provider
			status.SessionID = p.SessionID
			status.Amount = p.Amount
			status.Currency = p.Currency
		}
	}
	if anchor == -1 {
		return status, nil
	}

	status.State = PaymentStatePending
	for _, event := range events[anchor+1:] {
		switch p := payloadValue(event.Payload).(type) {
		case domain.PaymentSucceeded:
			status.State = PaymentStatePaid
			status.Provider = p.Provider
			status.SessionID = p.SessionID
			status.Amount = p.Amount
			status.Currency = p.Currency
			status.Reason = ""
		case domain.PaymentFailed:
			status.State = PaymentStateFailed
			status.Reason = p.Reason
		}
	}
	return status, nil
}

// ticketForSession resolves the ticket that initiated a session, for webhooks
// that arrive without ticket metadata.
func (s *paymentService) ticketForSession(ctx context.Context, provider, sessionID string) (string, error) {
	events, err := s.store.EventsByType(ctx, domain.EventPaymentInitiated)
	if err != nil {
		return "", fmt.Errorf("scan initiations: %w", err)
	}
	for _, event := range events {
		if p, ok := payloadValue(event.Payload).(domain.PaymentInitiated); ok {
			if p.Provider == provider && p.SessionID == sessionID {
				return p.TicketID, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no initiation for %s session %s", ErrPaymentUnknownTicket, provider, sessionID)
}

// payloadValue normalises pointer payloads produced by storage rehydration to
// their value form so folds can switch on value types only.
func payloadValue(p domain.Payload) domain.Payload {
	switch v := p.(type) {
	case *domain.SaleRecorded:
		return *v
	case *domain.PaymentInitiated:
		return *v
	case *domain.PaymentSucceeded:
		return *v
	case *domain.PaymentFailed:
		return *v
	case *domain.LoyaltyAccrued:
		return *v
	case *domain.LoyaltyRedeemed:
		return *v
	case *domain.InventoryAdjusted:
		return *v
	default:
		return p
	}
}
