package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"kanon/pkg/requestcontext"
)

// TokenHeader carries the shared admin token.
const TokenHeader = "X-Admin-Token"

// Actor is recorded on audit events for requests authorized by the token.
const Actor = "admin"

// RequireAdminToken rejects requests whose X-Admin-Token does not match
// expectedToken. An empty expectedToken rejects every request.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get(TokenHeader)
			// constant-time comparison
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithActorID(ctx, Actor)))
		})
	}
}
