package controlapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/heraldhq/herald/internal/httpx"
	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/store"
)

type contextKey struct{}

var accountKey = contextKey{}

// AccountFromContext returns the account resolved by the authentication middleware.
func AccountFromContext(ctx context.Context) (*store.Account, bool) {
	acc, ok := ctx.Value(accountKey).(*store.Account)
	return acc, ok
}

// HashAPIKey returns the hex SHA-256 digest stored for an API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// apiKeyFromRequest reads X-API-Key, falling back to an Authorization bearer token.
func apiKeyFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// authenticateAPIKey resolves the calling account from its API key.
// Only the hash is compared, so the raw key never reaches the store.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apiKeyFromRequest(r)
		if key == "" {
			httpx.Error(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "API key required")
			return
		}

		acc, err := a.repo.GetAccountByAPIKeyHash(r.Context(), HashAPIKey(key))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				httpx.Error(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "Invalid API key")
				return
			}
			logger.FromContext(r.Context()).Error("failed to resolve api key", slog.String("error", err.Error()))
			httpx.Internal(w, r, "Failed to authenticate request")
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, acc)
		ctx = logger.With(ctx, slog.String("account_id", acc.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
