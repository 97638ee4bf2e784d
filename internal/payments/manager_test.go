package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	session CheckoutSession
	payment PaymentDetails
	err     error
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	f.lastOp = "create"
	return f.session, f.err
}

func (f *fakeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	f.lastOp = "lookup"
	return f.payment, f.err
}

func TestManagerCreateCheckoutSessionUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{session: CheckoutSession{ID: "sess_stripe"}}
	paypal := &fakeProvider{session: CheckoutSession{ID: "sess_paypal"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"paypal": paypal,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.CreateCheckoutSession(ctx, PaymentContext{PreferredProvider: "paypal"}, CheckoutSessionRequest{Currency: "USD"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if session.Provider != "paypal" {
		t.Fatalf("expected provider 'paypal', got %q", session.Provider)
	}
	if paypal.lastOp != "create" || stripe.lastOp != "" {
		t.Fatalf("expected only paypal to be invoked (paypal=%q stripe=%q)", paypal.lastOp, stripe.lastOp)
	}
}

func TestManagerDefaultsToStripeWhenRegistered(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{session: CheckoutSession{ID: "sess_stripe"}}
	paypal := &fakeProvider{session: CheckoutSession{ID: "sess_paypal"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"paypal": paypal,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.CreateCheckoutSession(ctx, PaymentContext{}, CheckoutSessionRequest{Currency: "USD"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Provider != "stripe" {
		t.Fatalf("expected default provider 'stripe', got %q", session.Provider)
	}
}

func TestManagerCurrencyRouting(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{}
	local := &fakeProvider{}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"local":  local,
	}, WithCurrencyRoutes(map[string]string{"EGP": "local"}))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.CreateCheckoutSession(ctx, PaymentContext{Currency: "egp"}, CheckoutSessionRequest{Currency: "EGP"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Provider != "local" {
		t.Fatalf("expected routed provider 'local', got %q", session.Provider)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{
		"a": &fakeProvider{},
		"b": &fakeProvider{},
	}, WithDefaultProvider("missing"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.CreateCheckoutSession(context.Background(), PaymentContext{PreferredProvider: "unknown"}, CheckoutSessionRequest{})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerLookupFillsProvider(t *testing.T) {
	provider := &fakeProvider{payment: PaymentDetails{Status: StatusSucceeded}}
	mgr, err := NewManager(map[string]Provider{"stripe": provider})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.LookupPayment(context.Background(), PaymentContext{}, LookupRequest{SessionID: "cs_1"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if details.Provider != "stripe" {
		t.Fatalf("expected provider 'stripe', got %q", details.Provider)
	}
	if provider.lastOp != "lookup" {
		t.Fatalf("expected lookup invocation, got %q", provider.lastOp)
	}
}
