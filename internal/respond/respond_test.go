package respond

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forkful/gateway/internal/domain/auth"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuthError_TypedKinds(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{auth.Forbidden("Invalid API Key"), http.StatusForbidden, "Invalid API Key"},
		{auth.Unauthorized("Too many attempts"), http.StatusUnauthorized, "Too many attempts"},
		{auth.BadRequest("Invalid or expired refresh token"), http.StatusBadRequest, "Invalid or expired refresh token"},
		{auth.Conflict("Username or email already in use"), http.StatusConflict, "Username or email already in use"},
		{auth.RateLimited("Too many requests, please try again later"), http.StatusTooManyRequests, "Too many requests, please try again later"},
		{auth.Unavailable("Service unavailable"), http.StatusServiceUnavailable, "Service unavailable"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()

		AuthError(w, req, tc.err)

		assert.Equal(t, tc.status, w.Code, "message %q", tc.message)
		body := decodeEnvelope(t, w)
		assert.Equal(t, "error", body["status"])
		assert.Equal(t, tc.message, body["message"])
		assert.Equal(t, float64(tc.status), body["code"])
	}
}

// Untyped errors collapse to a generic 500 so internals never reach clients.
func TestAuthError_Untyped(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	AuthError(w, req, errors.New("pq: connection reset"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, "Internal server error", body["message"])
	assert.NotContains(t, w.Body.String(), "connection reset")
}
