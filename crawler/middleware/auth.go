package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/C0NZZ/better-teletask/crawler/store"
)

// KeyLookup resolves an API key to its record, or nil when unknown.
type KeyLookup interface {
	APIKey(ctx context.Context, key string) (*store.APIKey, error)
}

// APIKeyAuth guards mutating control-plane endpoints with the api_keys
// table. Keys are sent in the X-API-Key header; expired or revoked keys
// are rejected like unknown ones.
func APIKeyAuth(keys KeyLookup, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				http.Error(w, "missing API key", http.StatusUnauthorized)
				return
			}
			rec, err := keys.APIKey(r.Context(), key)
			if err != nil {
				log.Errorw("api key lookup failed", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if rec == nil || rec.Status != "active" || time.Now().After(rec.Expiration) {
				http.Error(w, "invalid API key", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
