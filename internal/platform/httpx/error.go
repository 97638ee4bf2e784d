// Package httpx holds the JSON error envelope shared by every handler.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Montivagant/rmsv3-sub002/internal/platform/requestctx"
)

// Error is a machine-readable API error. Code is a stable snake_case
// identifier clients can dispatch on; Message is for humans.
type Error struct {
	Code    string
	Message string
	Status  int
}

// NewError builds an Error, defaulting a zero status to 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    oneLine(code, 80),
		Message: oneLine(message, 512),
		Status:  status,
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteError renders the envelope as JSON, pulling the request and trace IDs
// from context so handlers never have to pass them around.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	body := errorBody{
		Error:     err.Code,
		Message:   err.Message,
		Status:    status,
		RequestID: oneLine(middleware.GetReqID(ctx), 80),
		TraceID:   oneLine(requestctx.TraceID(ctx), 64),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// oneLine keeps log-unsafe input out of response bodies.
func oneLine(value string, limit int) string {
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
