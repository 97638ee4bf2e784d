package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/payments"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/httpx"
	"github.com/Montivagant/rmsv3-sub002/internal/services"
)

const (
	maxCheckoutRequestBody = 16 * 1024

	defaultCheckoutRateLimit  = 10
	defaultCheckoutRateWindow = time.Minute
)

// PaymentHandlers exposes checkout initiation for tickets.
type PaymentHandlers struct {
	service services.PaymentService
	limiter rateLimiter
}

// PaymentHandlerOption customises PaymentHandlers construction.
type PaymentHandlerOption func(*PaymentHandlers)

// WithCheckoutRateLimit caps checkout initiations per ticket within the window.
func WithCheckoutRateLimit(limit int, window time.Duration) PaymentHandlerOption {
	return func(h *PaymentHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, nil)
	}
}

// NewPaymentHandlers constructs payment handlers over the payment service.
func NewPaymentHandlers(service services.PaymentService, opts ...PaymentHandlerOption) *PaymentHandlers {
	h := &PaymentHandlers{
		service: service,
		limiter: newFixedWindowLimiter(defaultCheckoutRateLimit, defaultCheckoutRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers payment endpoints under the provided router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{ticketID}/initiate", h.initiateCheckout)
}

type checkoutLineRequest struct {
	SKU     string  `json:"sku"`
	Name    string  `json:"name"`
	Qty     float64 `json:"qty"`
	Price   int64   `json:"price"`
	TaxRate float64 `json:"taxRate"`
}

type checkoutRequest struct {
	Amount     int64                 `json:"amount"`
	Currency   string                `json:"currency"`
	CustomerID string                `json:"customerId"`
	Provider   string                `json:"provider"`
	SuccessURL string                `json:"successUrl"`
	CancelURL  string                `json:"cancelUrl"`
	Lines      []checkoutLineRequest `json:"lines"`
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
	URL       string `json:"url"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	EventID   string `json:"eventId"`
	Seq       int64  `json:"seq"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

func (h *PaymentHandlers) initiateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	ticketID := strings.TrimSpace(chi.URLParam(r, "ticketID"))
	if ticketID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "ticket id is required", http.StatusBadRequest))
		return
	}

	if h.limiter != nil && !h.limiter.Allow("checkout:"+ticketID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts for this ticket", http.StatusTooManyRequests))
		return
	}

	lines := make([]domain.SaleLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, domain.SaleLine{
			SKU:     strings.TrimSpace(line.SKU),
			Name:    strings.TrimSpace(line.Name),
			Qty:     line.Qty,
			Price:   domain.Cents(line.Price),
			TaxRate: line.TaxRate,
		})
	}

	cmd := services.InitiatePaymentCommand{
		TicketID:   ticketID,
		Amount:     domain.Cents(req.Amount),
		Currency:   strings.TrimSpace(req.Currency),
		CustomerID: strings.TrimSpace(req.CustomerID),
		Provider:   strings.TrimSpace(req.Provider),
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
		Lines:      lines,
	}

	result, err := h.service.Initiate(ctx, cmd)
	if err != nil {
		h.writePaymentError(ctx, w, err)
		return
	}

	resp := checkoutResponse{
		SessionID: result.Session.ID,
		Provider:  result.Session.Provider,
		URL:       result.Session.RedirectURL,
		Amount:    req.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(req.Currency)),
		EventID:   result.Event.ID,
		Seq:       result.Event.Seq,
	}
	if !result.Session.ExpiresAt.IsZero() {
		resp.ExpiresAt = result.Session.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	writeJSONResponse(w, http.StatusCreated, resp)
}

func (h *PaymentHandlers) writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_provider", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to open checkout session", http.StatusBadGateway))
	}
}
