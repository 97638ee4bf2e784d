package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/payments"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/httpx"
	"github.com/Montivagant/rmsv3-sub002/internal/services"
)

const maxWebhookBody = 256 * 1024

// WebhookHandlers receives provider notifications and folds them into the
// ledger. Deliveries are acknowledged with 200 even when dropped, so the
// provider stops retrying; only signature failures and transient errors are
// non-2xx.
type WebhookHandlers struct {
	service       services.PaymentService
	signingSecret string
}

// NewWebhookHandlers constructs webhook handlers with the Stripe signing secret.
func NewWebhookHandlers(service services.PaymentService, signingSecret string) *WebhookHandlers {
	return &WebhookHandlers{
		service:       service,
		signingSecret: signingSecret,
	}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Deduped  bool   `json:"deduped,omitempty"`
	Seq      int64  `json:"seq,omitempty"`
	EventID  string `json:"eventId,omitempty"`
}

func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read webhook body", http.StatusBadRequest))
		return
	}

	parsed, tracked, err := payments.ParseStripeWebhook(payload, r.Header.Get("Stripe-Signature"), h.signingSecret)
	if err != nil {
		if errors.Is(err, payments.ErrWebhookSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to decode webhook payload", http.StatusBadRequest))
		return
	}
	if !tracked {
		writeJSONResponse(w, http.StatusOK, webhookResponse{Received: true})
		return
	}

	result, err := h.service.HandleWebhook(ctx, services.PaymentWebhookEvent{
		Provider:  parsed.Provider,
		EventID:   parsed.EventID,
		EventType: parsed.EventType,
		Outcome:   parsed.Outcome,
		SessionID: parsed.SessionID,
		IntentID:  parsed.IntentID,
		TicketID:  parsed.TicketID,
		Amount:    domain.Cents(parsed.Amount),
		Currency:  parsed.Currency,
		Reason:    parsed.Reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPaymentUnknownTicket):
			// The session cannot be tied to a ticket; acknowledging would lose
			// the delivery for good, so ask the provider to retry later.
			httpx.WriteError(ctx, w, httpx.NewError("unknown_ticket", "no ticket found for webhook session", http.StatusConflict))
		case errors.Is(err, services.ErrPaymentInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Received: true,
		Deduped:  result.Deduped,
		Seq:      result.Event.Seq,
		EventID:  result.Event.ID,
	})
}
