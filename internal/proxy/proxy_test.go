package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForward_RelaysRequestAndResponse(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Set-Cookie", "refresh_token=abc; HttpOnly")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"r1"}`))
	}))
	defer upstream.Close()

	f := NewForwarder("internal-secret", 5*time.Second)

	req := httptest.NewRequest(http.MethodPost, "/api/recipes?sort=new&page=2", strings.NewReader(`{"title":"Pancakes"}`))
	req.Header.Set("Authorization", "Bearer session-jwt")
	req.Header.Set("Cookie", "refresh_token=old")
	w := httptest.NewRecorder()

	f.Forward(w, req, upstream.URL, "/api/recipes", nil)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/api/recipes", got.URL.Path)
	assert.Equal(t, "sort=new&page=2", got.URL.RawQuery)
	assert.Equal(t, "Bearer session-jwt", got.Header.Get("Authorization"))
	assert.Equal(t, "refresh_token=old", got.Header.Get("Cookie"))
	assert.Equal(t, "internal-secret", got.Header.Get("x-internal-api-key"))
	assert.JSONEq(t, `{"title":"Pancakes"}`, string(gotBody))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `{"id":"r1"}`, w.Body.String())
	assert.Equal(t, "refresh_token=abc; HttpOnly", w.Header().Get("Set-Cookie"))
}

func TestForward_GetHasNoBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer upstream.Close()

	f := NewForwarder("internal-secret", 5*time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/recipes", nil)
	w := httptest.NewRecorder()
	f.Forward(w, req, upstream.URL, "/api/recipes", nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestForward_UpstreamErrorPassedThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer upstream.Close()

	f := NewForwarder("internal-secret", 5*time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/recipes", nil)
	w := httptest.NewRecorder()
	f.Forward(w, req, upstream.URL, "/api/recipes", nil)

	// Upstream's own status and body are the contract; only network
	// failures are rewritten.
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestForward_UpstreamDown(t *testing.T) {
	f := NewForwarder("internal-secret", time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/recipes", nil)
	w := httptest.NewRecorder()
	f.Forward(w, req, "http://127.0.0.1:1", "/api/recipes", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Service unavailable", body["message"])
	assert.Equal(t, float64(http.StatusServiceUnavailable), body["code"])
}

func multipartRequest(t *testing.T, withFile bool) *http.Request {
	t.Helper()
	var buf strings.Builder
	boundary := "testboundary"

	buf.WriteString("--" + boundary + "\r\n")
	buf.WriteString("Content-Disposition: form-data; name=\"recipeId\"\r\n\r\n")
	buf.WriteString("r1\r\n")
	if withFile {
		buf.WriteString("--" + boundary + "\r\n")
		buf.WriteString("Content-Disposition: form-data; name=\"image\"; filename=\"dish.jpg\"\r\n")
		buf.WriteString("Content-Type: image/jpeg\r\n\r\n")
		buf.WriteString("jpegbytes\r\n")
	}
	buf.WriteString("--" + boundary + "--\r\n")

	req := httptest.NewRequest(http.MethodPost, "/api/media", strings.NewReader(buf.String()))
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	return req
}

func TestForwardMultipart_RelaysFileAndFields(t *testing.T) {
	var gotFile, gotField string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotField = r.FormValue("recipeId")

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotFile = string(data)
		assert.Equal(t, "dish.jpg", header.Filename)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"url":"/img/dish.jpg"}`))
	}))
	defer upstream.Close()

	f := NewForwarder("internal-secret", 5*time.Second)
	w := httptest.NewRecorder()
	f.ForwardMultipart(w, multipartRequest(t, true), upstream.URL, "/api/media", true)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "r1", gotField)
	assert.Equal(t, "jpegbytes", gotFile)
	assert.JSONEq(t, `{"url":"/img/dish.jpg"}`, w.Body.String())
}

func TestForwardMultipart_MissingRequiredFile(t *testing.T) {
	called := false
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer upstream.Close()

	f := NewForwarder("internal-secret", 5*time.Second)
	w := httptest.NewRecorder()
	f.ForwardMultipart(w, multipartRequest(t, false), upstream.URL, "/api/media", true)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, called, "nothing may be forwarded without the required file")
}

func TestForwardMultipart_FileOptional(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := NewForwarder("internal-secret", 5*time.Second)
	w := httptest.NewRecorder()
	f.ForwardMultipart(w, multipartRequest(t, false), upstream.URL, "/api/media", false)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestForwardMultipart_NotMultipart(t *testing.T) {
	f := NewForwarder("internal-secret", 5*time.Second)

	req := httptest.NewRequest(http.MethodPost, "/api/media", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.ForwardMultipart(w, req, "http://127.0.0.1:1", "/api/media", true)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
