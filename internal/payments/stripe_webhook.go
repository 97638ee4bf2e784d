package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrWebhookSignature is returned when a webhook payload fails signature
// verification. Such payloads must be rejected without side effects.
var ErrWebhookSignature = errors.New("payments: invalid webhook signature")

// WebhookOutcome is the normalised terminal state carried by a provider
// webhook.
type WebhookOutcome string

const (
	WebhookOutcomeSucceeded WebhookOutcome = "succeeded"
	WebhookOutcomeFailed    WebhookOutcome = "failed"
)

// WebhookEvent is a provider webhook reduced to the fields the ledger needs.
type WebhookEvent struct {
	Provider  string
	EventID   string
	EventType string
	Outcome   WebhookOutcome
	SessionID string
	IntentID  string
	TicketID  string
	Amount    int64
	Currency  string
	Reason    string
}

// ParseStripeWebhook verifies the Stripe signature and normalises the event.
// The second return is false for event types the ledger does not track; such
// events are acknowledged and dropped.
func ParseStripeWebhook(payload []byte, signatureHeader, signingSecret string) (WebhookEvent, bool, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, signingSecret)
	if err != nil {
		return WebhookEvent{}, false, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	var outcome WebhookOutcome
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		outcome = WebhookOutcomeSucceeded
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		outcome = WebhookOutcomeFailed
	default:
		return WebhookEvent{}, false, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, false, fmt.Errorf("decode checkout session: %w", err)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	reason := ""
	if outcome == WebhookOutcomeFailed {
		reason = strings.TrimPrefix(string(event.Type), "checkout.session.")
	}

	return WebhookEvent{
		Provider:  "stripe",
		EventID:   event.ID,
		EventType: string(event.Type),
		Outcome:   outcome,
		SessionID: session.ID,
		IntentID:  intentID,
		TicketID:  session.Metadata["ticketId"],
		Amount:    session.AmountTotal,
		Currency:  strings.ToUpper(string(session.Currency)),
		Reason:    reason,
	}, true, nil
}
