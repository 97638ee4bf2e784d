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
	"github.com/Montivagant/rmsv3-sub002/internal/ledger"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/auth"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/httpx"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/pagination"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/requestctx"
	"github.com/Montivagant/rmsv3-sub002/internal/services"
)

const maxFinalizeRequestBody = 64 * 1024

// TicketHandlers exposes ticket finalization and per-ticket ledger queries.
type TicketHandlers struct {
	sales    services.SalesService
	payments services.PaymentService
	store    *ledger.Store
}

// NewTicketHandlers constructs ticket handlers over the sales orchestrator.
func NewTicketHandlers(sales services.SalesService, payments services.PaymentService, store *ledger.Store) *TicketHandlers {
	return &TicketHandlers{
		sales:    sales,
		payments: payments,
		store:    store,
	}
}

// SalesRoutes registers the finalization endpoint under the sales group.
func (h *TicketHandlers) SalesRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{ticketID}/finalize", h.finalize)
}

// Routes registers ticket query endpoints under the provided router.
func (h *TicketHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{ticketID}/events", h.listEvents)
	r.Get("/{ticketID}/payment", h.paymentStatus)
}

type finalizeLineRequest struct {
	SKU     string  `json:"sku"`
	Name    string  `json:"name"`
	Qty     float64 `json:"qty"`
	Price   int64   `json:"price"`
	TaxRate float64 `json:"taxRate"`
}

type finalizeRequest struct {
	Lines          []finalizeLineRequest `json:"lines"`
	Discount       int64                 `json:"discount"`
	CustomerID     string                `json:"customerId"`
	OversellPolicy string                `json:"oversellPolicy"`
	Notes          string                `json:"notes"`
}

type finalizeResponse struct {
	EventID       string          `json:"eventId"`
	Seq           int64           `json:"seq"`
	At            string          `json:"at"`
	Totals        domain.Totals   `json:"totals"`
	Replayed      bool            `json:"replayed"`
	LoyaltyPoints int64           `json:"loyaltyPoints,omitempty"`
	Alerts        []oversellAlert `json:"alerts,omitempty"`
}

type oversellAlert struct {
	SKU       string  `json:"sku"`
	Requested float64 `json:"requested"`
	Available float64 `json:"available"`
	NewQty    float64 `json:"newQty"`
}

func (h *TicketHandlers) finalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sales == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sales_unavailable", "sales service unavailable", http.StatusServiceUnavailable))
		return
	}

	// The actor is an external fact attached upstream; when present it must
	// carry at least cashier rank to record a sale.
	if actor, ok := requestctx.Actor(ctx); ok && !auth.RoleAtLeast(actor.Role, auth.RoleCashier) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient role to finalize a sale", http.StatusForbidden))
		return
	}

	ticketID := strings.TrimSpace(chi.URLParam(r, "ticketID"))
	if ticketID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "ticket id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxFinalizeRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req finalizeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
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

	cmd := services.FinalizeSaleCommand{
		TicketID:   ticketID,
		Lines:      lines,
		Discount:   domain.Cents(req.Discount),
		CustomerID: strings.TrimSpace(req.CustomerID),
		Policy:     services.OversellPolicy(strings.TrimSpace(req.OversellPolicy)),
		Notes:      strings.TrimSpace(req.Notes),
	}

	result, err := h.sales.Finalize(ctx, cmd)
	if err != nil {
		h.writeFinalizeError(ctx, w, err)
		return
	}

	resp := finalizeResponse{
		EventID:       result.Event.ID,
		Seq:           result.Event.Seq,
		At:            result.Event.At.UTC().Format(time.RFC3339Nano),
		Totals:        result.Totals,
		Replayed:      result.Replayed,
		LoyaltyPoints: result.LoyaltyPoints,
	}
	for _, alert := range result.Inventory.Alerts {
		resp.Alerts = append(resp.Alerts, oversellAlert{
			SKU:       alert.SKU,
			Requested: alert.Requested,
			Available: alert.Available,
			NewQty:    alert.NewQty,
		})
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, resp)
}

type eventListResponse struct {
	Events        []domain.Event `json:"events"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func (h *TicketHandlers) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ledger_unavailable", "ledger unavailable", http.StatusServiceUnavailable))
		return
	}

	ticketID := strings.TrimSpace(chi.URLParam(r, "ticketID"))
	if ticketID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "ticket id is required", http.StatusBadRequest))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	events, err := h.store.EventsByAggregate(ctx, ticketID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("ledger_error", "failed to read ticket events", http.StatusInternalServerError))
		return
	}

	page, nextToken, err := paginateEvents(events, params)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("ledger_error", "failed to paginate events", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, eventListResponse{Events: page, NextPageToken: nextToken})
}

func (h *TicketHandlers) paymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	ticketID := strings.TrimSpace(chi.URLParam(r, "ticketID"))
	if ticketID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "ticket id is required", http.StatusBadRequest))
		return
	}

	status, err := h.payments.Status(ctx, ticketID)
	if err != nil {
		if errors.Is(err, services.ErrPaymentInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to derive payment status", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, status)
}

func (h *TicketHandlers) writeFinalizeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSaleInvalidInput), errors.Is(err, services.ErrInventoryInvalidInput), errors.Is(err, ledger.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOversellBlocked):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, ledger.ErrIdempotencyConflict):
		httpx.WriteError(ctx, w, httpx.NewError("finalize_conflict", "ticket was already finalized with a different cart", http.StatusConflict))
	case errors.Is(err, services.ErrInventoryPolicy):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("finalize_error", "failed to finalize ticket", http.StatusInternalServerError))
	}
}

// paginateEvents slices an ascending event list according to the cursor and
// produces the token for the following page.
func paginateEvents(events []domain.Event, params pagination.Params) ([]domain.Event, string, error) {
	start := 0
	for start < len(events) && events[start].Seq <= params.AfterSeq {
		start++
	}

	end := start + params.PageSize
	if params.PageSize <= 0 || end > len(events) {
		end = len(events)
	}

	page := events[start:end]
	if end >= len(events) {
		return page, "", nil
	}
	token, err := pagination.EncodeToken(events[end-1].Seq)
	if err != nil {
		return nil, "", err
	}
	return page, token, nil
}
