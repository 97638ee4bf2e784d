// Package auth guards the management surface of the API. Staff endpoints
// (inventory corrections, ledger resets) authenticate with a static admin key
// compared in constant time; the public sale and webhook surfaces carry their
// own verification.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/Montivagant/rmsv3-sub002/internal/platform/httpx"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/requestctx"
)

const (
	apiKeyHeader = "X-API-Key"

	// RoleCashier marks callers allowed to record sales.
	RoleCashier = "cashier"
	// RoleManager marks callers allowed on corrective operations.
	RoleManager = "manager"
	// RoleAdmin marks callers allowed on management endpoints.
	RoleAdmin = "admin"
)

var roleRanks = map[string]int{
	RoleCashier: 1,
	RoleManager: 2,
	RoleAdmin:   3,
}

// RoleAtLeast reports whether role meets or exceeds the minimum rank. Unknown
// roles rank below every known role.
func RoleAtLeast(role, minimum string) bool {
	return roleRanks[strings.ToLower(strings.TrimSpace(role))] >= roleRanks[minimum]
}

// RequireAPIKey returns middleware that rejects requests without the
// configured admin key. An empty configured key disables the middleware and
// every request passes, which is intended for local development only.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	key = strings.TrimSpace(key)
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := strings.TrimSpace(r.Header.Get(apiKeyHeader))
			if provided == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthorized", "missing api key", http.StatusUnauthorized))
				return
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "invalid api key", http.StatusForbidden))
				return
			}
			ctx := requestctx.WithActor(r.Context(), requestctx.ActorInfo{ID: "api-key", Role: RoleAdmin})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
