//go:build integration

package integration

import (
	"net/http"
	"testing"
)

// No recipe service runs in the compose environment, so proxied routes
// answer 503 with the standard envelope instead of hanging or panicking.
func TestProxy_UpstreamUnavailable(t *testing.T) {
	resp := doGet(t, "/api/recipes")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	body := decodeJSON[errorResponse](t, resp)
	if body.Message != "Service unavailable" {
		t.Errorf("message: got %q", body.Message)
	}
}

// Mutating proxy routes demand a session before anything is forwarded.
func TestProxy_WriteRequiresSession(t *testing.T) {
	resp := doPost(t, "/api/recipes", map[string]string{"title": "Shakshuka"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
