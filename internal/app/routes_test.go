package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forkful/gateway/internal/handler"
	"github.com/forkful/gateway/internal/proxy"
	"github.com/forkful/gateway/internal/session"
	"github.com/forkful/gateway/internal/signedkey"
	"github.com/forkful/gateway/pkg/httpmiddleware"
	"github.com/forkful/gateway/pkg/slidingwindow"
)

// newRouteFixture builds the routing table with every upstream pointed at
// upstreamURL and tight limiter classes.
func newRouteFixture(upstreamURL string, strictMax, moderateMax int) http.Handler {
	cfg := &Config{
		Services: ServicesConfig{
			RecipeURL:   upstreamURL,
			UserURL:     upstreamURL,
			MediaURL:    upstreamURL,
			MailURL:     upstreamURL,
			RealtimeURL: upstreamURL,
		},
	}
	h := handler.New(handler.Config{
		GatewaySecret:   "route-test-secret",
		SignedKeyMaxAge: time.Hour,
		JWTSecret:       []byte("route-test-jwt"),
		UserServiceURL:  upstreamURL,
	},
		signedkey.New([]byte("route-test-key")),
		session.NewIssuer(session.IssuerConfig{JWTSecret: []byte("route-test-jwt")}, nil, nil, nil, nil),
		proxy.NewForwarder("internal", time.Second),
		proxy.NewHydrator(upstreamURL, "internal", time.Second),
	)

	strict := httpmiddleware.RateLimitWith(slidingwindow.New(strictMax, time.Minute), httpmiddleware.ClientIP)
	moderate := httpmiddleware.RateLimitWith(slidingwindow.New(moderateMax, time.Minute), httpmiddleware.ClientIP)
	return apiRoutes(h, nil, cfg, strict, moderate)
}

func TestRoutes_NotificationsModerateClass(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	routes := newRouteFixture(upstream.URL, 2, 3)

	for i := range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/notifications/feed", nil)
		req.RemoteAddr = "10.0.0.7:40000"
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/notifications/feed", nil)
	req.RemoteAddr = "10.0.0.7:40000"
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Too many requests, please try again later", body["message"])

	// Recipe reads carry no limiter class and stay unaffected.
	read := httptest.NewRequest(http.MethodGet, "/api/recipes", nil)
	read.RemoteAddr = "10.0.0.7:40000"
	rw := httptest.NewRecorder()
	routes.ServeHTTP(rw, read)
	assert.Equal(t, http.StatusOK, rw.Code)
}

func TestRoutes_LoginStrictClass(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	routes := newRouteFixture(upstream.URL, 2, 10)

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "10.0.0.8:40000"
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		require.NotEqual(t, http.StatusTooManyRequests, w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "10.0.0.8:40000"
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
