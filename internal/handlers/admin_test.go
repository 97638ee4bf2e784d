package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/ledger"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/auth"
	"github.com/Montivagant/rmsv3-sub002/internal/repositories"
	"github.com/Montivagant/rmsv3-sub002/internal/services"
)

type adminFixture struct {
	store  *ledger.Store
	router chi.Router
}

func newAdminFixture(t *testing.T, apiKey string) *adminFixture {
	t.Helper()

	store, err := ledger.NewStore(ledger.StoreDeps{Log: ledger.NewMemoryLog()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		Repository: repositories.NewMemoryInventoryRepository(),
		Store:      store,
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	loyalty, err := services.NewLoyaltyService(services.LoyaltyServiceDeps{Store: store})
	if err != nil {
		t.Fatalf("new loyalty service: %v", err)
	}

	handlers := NewAdminHandlers(inventory, loyalty, store)
	router := NewRouter(
		WithAdminRoutes(handlers.Routes),
		WithAdminMiddlewares(auth.RequireAPIKey(apiKey)),
	)
	return &adminFixture{store: store, router: router}
}

func (f *adminFixture) do(t *testing.T, method, path, body, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestAdminRequiresAPIKey(t *testing.T) {
	f := newAdminFixture(t, "sekret")

	rr := f.do(t, http.MethodGet, "/api/v1/admin/inventory/espresso", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/api/v1/admin/inventory/espresso", "", "wrong")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong key, got %d", rr.Code)
	}
}

func TestAdminInventoryReceiveAndQuery(t *testing.T) {
	f := newAdminFixture(t, "sekret")

	rr := f.do(t, http.MethodPost, "/api/v1/admin/inventory/espresso/receive", `{"quantity": 24, "reference": "po-77"}`, "sekret")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp inventoryQuantityResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Quantity != 24 {
		t.Fatalf("expected quantity 24, got %v", resp.Quantity)
	}

	rr = f.do(t, http.MethodGet, "/api/v1/admin/inventory/espresso", "", "sekret")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Quantity != 24 {
		t.Fatalf("expected quantity 24 after receive, got %v", resp.Quantity)
	}
}

func TestAdminInventorySetQuantity(t *testing.T) {
	f := newAdminFixture(t, "sekret")

	rr := f.do(t, http.MethodPut, "/api/v1/admin/inventory/espresso/quantity", `{"quantity": 10}`, "sekret")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPost, "/api/v1/admin/inventory/espresso/receive", `{"quantity": -5}`, "sekret")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative receive, got %d", rr.Code)
	}
}

func TestAdminLoyaltyBalanceAndRedeem(t *testing.T) {
	f := newAdminFixture(t, "sekret")

	loyalty, err := services.NewLoyaltyService(services.LoyaltyServiceDeps{Store: f.store})
	if err != nil {
		t.Fatalf("new loyalty service: %v", err)
	}
	if _, err := loyalty.Accrue(context.Background(), "cust-9", "t-1", domain.Cents(2599)); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	rr := f.do(t, http.MethodGet, "/api/v1/admin/loyalty/cust-9/balance", "", "sekret")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var balance loyaltyBalanceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &balance); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if balance.Balance != 25 {
		t.Fatalf("expected balance 25, got %d", balance.Balance)
	}

	rr = f.do(t, http.MethodPost, "/api/v1/admin/loyalty/cust-9/redeem", `{"ticketId": "t-2", "points": 10}`, "sekret")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &balance); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if balance.Balance != 15 {
		t.Fatalf("expected balance 15 after redeem, got %d", balance.Balance)
	}

	rr = f.do(t, http.MethodPost, "/api/v1/admin/loyalty/cust-9/redeem", `{"ticketId": "t-3", "points": 100}`, "sekret")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for overdraw, got %d", rr.Code)
	}
}

func TestAdminLedgerEventsPagination(t *testing.T) {
	f := newAdminFixture(t, "sekret")

	loyalty, err := services.NewLoyaltyService(services.LoyaltyServiceDeps{Store: f.store})
	if err != nil {
		t.Fatalf("new loyalty service: %v", err)
	}
	for _, ticket := range []string{"t-1", "t-2", "t-3"} {
		if _, err := loyalty.Accrue(context.Background(), "cust-9", ticket, domain.Cents(500)); err != nil {
			t.Fatalf("accrue %s: %v", ticket, err)
		}
	}

	rr := f.do(t, http.MethodGet, "/api/v1/admin/ledger/events?pageSize=2", "", "sekret")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var page eventListPage
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(page.Events) != 2 || page.NextPageToken == "" {
		t.Fatalf("expected 2 events and a next token, got %d events token %q", len(page.Events), page.NextPageToken)
	}

	rr = f.do(t, http.MethodGet, "/api/v1/admin/ledger/events?pageSize=2&pageToken="+page.NextPageToken, "", "sekret")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	page = eventListPage{}
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(page.Events) != 1 || page.NextPageToken != "" {
		t.Fatalf("expected final page with 1 event, got %d events token %q", len(page.Events), page.NextPageToken)
	}
	if page.Events[0].Seq != 3 {
		t.Fatalf("expected seq 3 on final page, got %d", page.Events[0].Seq)
	}
}
