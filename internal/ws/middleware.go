package ws

import (
	"context"
	"net/http"
)

// GatewayAuthMiddleware trusts the X-User-ID header stamped by the api
// gateway after JWT validation. Identity is never taken from client
// payloads; authorization decisions downstream use only this value.
func GatewayAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")

		ctx := context.WithValue(r.Context(), "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
