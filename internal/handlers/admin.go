package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/ledger"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/httpx"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/pagination"
	"github.com/Montivagant/rmsv3-sub002/internal/services"
)

const maxAdminRequestBody = 8 * 1024

// AdminHandlers exposes back-office inventory, loyalty, and ledger endpoints.
// The route group is expected to sit behind API key middleware.
type AdminHandlers struct {
	inventory services.InventoryService
	loyalty   services.LoyaltyService
	store     *ledger.Store
}

// NewAdminHandlers constructs the admin handler set.
func NewAdminHandlers(inventory services.InventoryService, loyalty services.LoyaltyService, store *ledger.Store) *AdminHandlers {
	return &AdminHandlers{
		inventory: inventory,
		loyalty:   loyalty,
		store:     store,
	}
}

// Routes registers admin endpoints under the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/inventory/{sku}", h.inventoryQuantity)
	r.Put("/inventory/{sku}/quantity", h.inventorySet)
	r.Post("/inventory/{sku}/receive", h.inventoryReceive)
	r.Get("/loyalty/{customerID}/balance", h.loyaltyBalance)
	r.Post("/loyalty/{customerID}/redeem", h.loyaltyRedeem)
	r.Get("/ledger/events", h.ledgerEvents)
}

type inventoryQuantityResponse struct {
	SKU      string  `json:"sku"`
	Quantity float64 `json:"quantity"`
}

func (h *AdminHandlers) inventoryQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	qty, err := h.inventory.Quantity(ctx, sku)
	if err != nil {
		h.writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, inventoryQuantityResponse{SKU: sku, Quantity: qty})
}

type inventorySetRequest struct {
	Quantity float64 `json:"quantity"`
}

func (h *AdminHandlers) inventorySet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	var req inventorySetRequest
	if !h.decodeAdminBody(ctx, w, r, &req) {
		return
	}

	if err := h.inventory.SetQuantity(ctx, sku, req.Quantity); err != nil {
		h.writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, inventoryQuantityResponse{SKU: sku, Quantity: req.Quantity})
}

type inventoryReceiveRequest struct {
	Quantity  float64 `json:"quantity"`
	Reference string  `json:"reference"`
}

func (h *AdminHandlers) inventoryReceive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	var req inventoryReceiveRequest
	if !h.decodeAdminBody(ctx, w, r, &req) {
		return
	}

	if err := h.inventory.Receive(ctx, sku, req.Quantity, strings.TrimSpace(req.Reference)); err != nil {
		h.writeInventoryError(ctx, w, err)
		return
	}

	qty, err := h.inventory.Quantity(ctx, sku)
	if err != nil {
		h.writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, inventoryQuantityResponse{SKU: sku, Quantity: qty})
}

type loyaltyBalanceResponse struct {
	CustomerID string `json:"customerId"`
	Balance    int64  `json:"balance"`
}

func (h *AdminHandlers) loyaltyBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_unavailable", "loyalty service unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID := strings.TrimSpace(chi.URLParam(r, "customerID"))
	balance, err := h.loyalty.Balance(ctx, customerID)
	if err != nil {
		h.writeLoyaltyError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, loyaltyBalanceResponse{CustomerID: customerID, Balance: balance})
}

type loyaltyRedeemRequest struct {
	TicketID string `json:"ticketId"`
	Points   int64  `json:"points"`
	Value    int64  `json:"value"`
}

func (h *AdminHandlers) loyaltyRedeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_unavailable", "loyalty service unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID := strings.TrimSpace(chi.URLParam(r, "customerID"))
	var req loyaltyRedeemRequest
	if !h.decodeAdminBody(ctx, w, r, &req) {
		return
	}

	if err := h.loyalty.Redeem(ctx, customerID, strings.TrimSpace(req.TicketID), req.Points, domain.Cents(req.Value)); err != nil {
		h.writeLoyaltyError(ctx, w, err)
		return
	}

	balance, err := h.loyalty.Balance(ctx, customerID)
	if err != nil {
		h.writeLoyaltyError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, loyaltyBalanceResponse{CustomerID: customerID, Balance: balance})
}

func (h *AdminHandlers) ledgerEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ledger_unavailable", "ledger unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	events, err := h.store.Events(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("ledger_error", "failed to read ledger events", http.StatusInternalServerError))
		return
	}

	page, nextToken, err := paginateEvents(events, params)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("ledger_error", "failed to paginate events", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, eventListResponse{Events: page, NextPageToken: nextToken})
}

func (h *AdminHandlers) decodeAdminBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxAdminRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func (h *AdminHandlers) writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}

func (h *AdminHandlers) writeLoyaltyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrLoyaltyInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrLoyaltyInsufficient):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_points", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_error", "failed to process loyalty request", http.StatusInternalServerError))
	}
}
