package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/forkful/gateway/internal/domain/auth"
	"github.com/forkful/gateway/internal/respond"
	"github.com/forkful/gateway/internal/session"
	"github.com/forkful/gateway/internal/signedkey"
	"github.com/forkful/gateway/pkg/httpmiddleware"
)

// gatewayKeyHeader carries the perimeter credential: either a signed key or
// the static gateway secret.
const gatewayKeyHeader = "x-gateway-api-key"

// PerimeterGate returns the middleware enforcing a perimeter credential on
// every request before any routing logic runs. A signed key resolves to its
// owning user; the static secret resolves to the gateway sentinel principal.
func (h *Handler) PerimeterGate() httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(gatewayKeyHeader)
			if key == "" {
				respond.AuthError(w, r, auth.Forbidden("API Key not found"))
				return
			}

			if strings.HasPrefix(key, signedkey.Prefix) {
				claims, ok := h.codec.Validate(key)
				if !ok {
					respond.AuthError(w, r, auth.Forbidden("Invalid API Key"))
					return
				}
				if signedkey.IsExpired(claims.IssuedAt, h.cfg.SignedKeyMaxAge) {
					respond.AuthError(w, r, auth.Forbidden("API Key expired"))
					return
				}
				ctx := auth.WithPrincipal(r.Context(), auth.Principal{ID: claims.UserID})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.GatewaySecret)) == 1 {
				ctx := auth.WithPrincipal(r.Context(), auth.Principal{
					ID:   auth.GatewayID,
					Role: "service",
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			respond.AuthError(w, r, auth.Forbidden("Invalid API Key"))
		})
	}
}

// RequireSession returns the middleware demanding a valid session JWT in
// addition to the perimeter credential. The verified session is attached to
// the request context.
func (h *Handler) RequireSession() httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, found := strings.CutPrefix(header, "Bearer ")
			if header == "" || !found {
				respond.AuthError(w, r, auth.Unauthorized("Session token required"))
				return
			}

			sess, err := session.ParseJWT(h.cfg.JWTSecret, tokenString)
			if err != nil {
				respond.AuthError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sess)))
		})
	}
}
