// Package handler exposes the gateway's HTTP surface: the perimeter and
// session middleware, the session lifecycle endpoints, and the proxy routes
// into the internal services.
package handler

import (
	"net/http"
	"time"

	"github.com/forkful/gateway/internal/proxy"
	"github.com/forkful/gateway/internal/session"
	"github.com/forkful/gateway/internal/signedkey"
)

// Config holds the non-dependency configuration for the Handler.
type Config struct {
	// GatewaySecret is the static shared secret trusted for
	// service-to-service calls at the perimeter.
	GatewaySecret string
	// SignedKeyMaxAge bounds the age of signed API keys.
	SignedKeyMaxAge time.Duration
	// JWTSecret verifies session tokens on user-scoped routes.
	JWTSecret []byte
	// UserServiceURL is the base URL of the user service, used by the
	// account deletion flow.
	UserServiceURL string
}

// Handler carries the trust-layer dependencies shared by all routes.
type Handler struct {
	cfg       Config
	codec     *signedkey.Codec
	issuer    *session.Issuer
	forwarder *proxy.Forwarder
	hydrator  *proxy.Hydrator
}

// New constructs a Handler with the required dependencies.
func New(cfg Config, codec *signedkey.Codec, issuer *session.Issuer, forwarder *proxy.Forwarder, hydrator *proxy.Hydrator) *Handler {
	return &Handler{
		cfg:       cfg,
		codec:     codec,
		issuer:    issuer,
		forwarder: forwarder,
		hydrator:  hydrator,
	}
}

// ProxyTo returns a handler forwarding the request, path included, to the
// service at baseURL. With hydrate set, successful JSON responses are
// enriched with resolved owner entities.
func (h *Handler) ProxyTo(baseURL string, hydrate bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var hy *proxy.Hydrator
		if hydrate {
			hy = h.hydrator
		}
		h.forwarder.Forward(w, r, baseURL, r.URL.Path, hy)
	})
}

// UploadTo returns a handler relaying a multipart upload to the service at
// baseURL.
func (h *Handler) UploadTo(baseURL string, fileRequired bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.forwarder.ForwardMultipart(w, r, baseURL, r.URL.Path, fileRequired)
	})
}
