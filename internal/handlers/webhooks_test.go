package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/services"
)

const webhookSecret = "whsec_test_secret"

func signStripePayload(t *testing.T, payload []byte) string {
	t.Helper()
	timestamp := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEventPayload(eventType string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": %q,
		"api_version": %q,
		"data": {
			"object": {
				"id": "cs_123",
				"amount_total": 798,
				"currency": "usd",
				"metadata": {"ticketId": "t-1"}
			}
		}
	}`, eventType, stripe.APIVersion))
}

func newWebhookRouter(svc services.PaymentService) http.Handler {
	return NewRouter(WithWebhookRoutes(NewWebhookHandlers(svc, webhookSecret).Routes))
}

func TestStripeWebhookSuccess(t *testing.T) {
	svc := &stubPaymentService{
		webhookResult: services.PaymentWebhookResult{Event: domain.Event{ID: "evt_l1", Seq: 7}},
	}
	router := newWebhookRouter(svc)

	payload := stripeEventPayload("checkout.session.completed")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signStripePayload(t, payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp webhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Received || resp.Seq != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if svc.webhookCalls != 1 {
		t.Fatalf("expected one webhook call, got %d", svc.webhookCalls)
	}
	if svc.lastWebhook.TicketID != "t-1" || svc.lastWebhook.SessionID != "cs_123" {
		t.Fatalf("unexpected webhook event: %+v", svc.lastWebhook)
	}
	if svc.lastWebhook.Currency != "USD" || svc.lastWebhook.Amount != 798 {
		t.Fatalf("unexpected amount fields: %+v", svc.lastWebhook)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	svc := &stubPaymentService{}
	router := newWebhookRouter(svc)

	payload := stripeEventPayload("checkout.session.completed")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if svc.webhookCalls != 0 {
		t.Fatalf("expected no webhook calls on signature failure")
	}
}

func TestStripeWebhookDropsUntrackedEventTypes(t *testing.T) {
	svc := &stubPaymentService{}
	router := newWebhookRouter(svc)

	payload := stripeEventPayload("invoice.paid")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signStripePayload(t, payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 acknowledgement, got %d", rr.Code)
	}
	if svc.webhookCalls != 0 {
		t.Fatalf("expected untracked event to be dropped before the service")
	}
}

func TestStripeWebhookUnknownTicketAsksForRetry(t *testing.T) {
	svc := &stubPaymentService{webhookErr: services.ErrPaymentUnknownTicket}
	router := newWebhookRouter(svc)

	payload := stripeEventPayload("checkout.session.expired")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signStripePayload(t, payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}
