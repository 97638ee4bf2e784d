package pagination

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, params.PageSize)
	}
	if params.AfterSeq != 0 {
		t.Fatalf("expected afterSeq 0, got %d", params.AfterSeq)
	}
}

func TestParsePageSizeClamped(t *testing.T) {
	values := url.Values{"pageSize": []string{"9999"}}
	params, err := Parse(values, Options{MaxPageSize: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.PageSize != 100 {
		t.Fatalf("expected clamped page size 100, got %d", params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-5"} {
		values := url.Values{"pageSize": []string{raw}}
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("pageSize %q: expected ErrInvalidPageSize, got %v", raw, err)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := EncodeToken(42)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}

	values := url.Values{"pageToken": []string{token}}
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params.AfterSeq != 42 {
		t.Fatalf("expected afterSeq 42, got %d", params.AfterSeq)
	}
}

func TestEncodeTokenZeroIsEmpty(t *testing.T) {
	token, err := EncodeToken(0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token for seq 0, got %q", token)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"not-base64!!", "YWJj"} {
		if _, err := DecodeToken(raw); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("token %q: expected ErrInvalidPageToken, got %v", raw, err)
		}
	}
}
