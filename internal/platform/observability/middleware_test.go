package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/Montivagant/rmsv3-sub002/internal/platform/requestctx"
)

func TestCleanStripsControlCharactersAndCaps(t *testing.T) {
	if got := clean("GET\r\nPOST", 10); got != "GETPOST" {
		t.Fatalf("unexpected cleaned value %q", got)
	}
	if got := clean("abcdefgh", 4); got != "abcd" {
		t.Fatalf("expected cap at 4 runes, got %q", got)
	}
}

func TestRecoveryMiddlewareWritesErrorEnvelope(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tickets", nil)
	req = req.WithContext(requestctx.WithLogger(req.Context(), zap.NewNop()))

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestStatusWriterTracksStatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	sw.WriteHeader(http.StatusCreated)
	if _, err := sw.Write([]byte(`{"id":"t-1"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if sw.status != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", sw.status)
	}
	if sw.bytes != int64(len(`{"id":"t-1"}`)) {
		t.Fatalf("unexpected byte count %d", sw.bytes)
	}
}

func TestRequestLoggerMiddlewarePassesThrough(t *testing.T) {
	handler := RequestLoggerMiddleware("demo-project")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/tickets/t-1", nil)
	req = req.WithContext(requestctx.WithLogger(req.Context(), zap.NewNop()))

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}
