// Package proxy forwards client requests to the internal services and
// enriches successful responses with cross-service data. It owns the
// gateway's outbound credential handling: inbound Authorization and Cookie
// headers travel with the request, and every call carries the internal
// service key.
package proxy

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/forkful/gateway/internal/domain/auth"
	"github.com/forkful/gateway/internal/respond"
)

// internalKeyHeader authenticates gateway-to-service calls. It is distinct
// from the client-facing gateway key.
const internalKeyHeader = "x-internal-api-key"

// maxUploadBytes bounds how much multipart file content is buffered before
// re-encoding for the media service.
const maxUploadBytes = 32 << 20

// Forwarder relays requests to internal services.
type Forwarder struct {
	client      *http.Client
	internalKey string
}

// NewForwarder creates a Forwarder authenticating with the internal service
// key. timeout bounds every proxied call.
func NewForwarder(internalKey string, timeout time.Duration) *Forwarder {
	return &Forwarder{
		client:      &http.Client{Timeout: timeout},
		internalKey: internalKey,
	}
}

// Forward relays the inbound request to baseURL+path, preserving the query
// string, the JSON body on mutating verbs, and the Authorization and Cookie
// headers. The upstream status and body are returned verbatim; Set-Cookie
// headers are copied back. When hydrator is non-nil, successful JSON
// responses are enriched before being written. Upstream failures surface as
// 503 without leaking upstream details.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, baseURL, path string, hydrator *Hydrator) {
	target := baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	var body io.Reader
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "Unable to read request body")
			return
		}
		if len(payload) > 0 {
			body = bytes.NewReader(payload)
		}
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	f.setOutboundHeaders(req, r)

	resp, err := f.client.Do(req)
	if err != nil {
		zctx.From(r.Context()).Error("proxy upstream call failed",
			zap.String("target", baseURL+path),
			zap.Error(err),
		)
		respond.AuthError(w, r, auth.Unavailable("Service unavailable"))
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		respond.AuthError(w, r, auth.Unavailable("Service unavailable"))
		return
	}

	if hydrator != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		respBody = hydrator.Hydrate(r.Context(), respBody)
	}

	f.writeUpstream(w, resp, respBody)
}

// ForwardMultipart streams the inbound multipart form, buffering file parts,
// re-encodes it, and submits it to baseURL+path with the usual credential
// propagation. When fileRequired is set and the form carries no file part,
// the request is rejected before anything is forwarded.
func (f *Forwarder) ForwardMultipart(w http.ResponseWriter, r *http.Request, baseURL, path string, fileRequired bool) {
	reader, err := r.MultipartReader()
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "Expected multipart form data")
		return
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	sawFile := false

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "Malformed multipart form data")
			return
		}

		if part.FileName() == "" {
			value, err := io.ReadAll(part)
			if err != nil {
				respond.Error(w, http.StatusBadRequest, "Malformed multipart form data")
				return
			}
			if err := mw.WriteField(part.FormName(), string(value)); err != nil {
				respond.Error(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			continue
		}

		sawFile = true
		dst, err := mw.CreatePart(part.Header)
		if err != nil {
			respond.Error(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if _, err := io.Copy(dst, io.LimitReader(part, maxUploadBytes)); err != nil {
			respond.Error(w, http.StatusBadRequest, "Malformed multipart form data")
			return
		}
	}

	if fileRequired && !sawFile {
		respond.Error(w, http.StatusBadRequest, "A file is required")
		return
	}
	if err := mw.Close(); err != nil {
		respond.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, baseURL+path, &buf)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	f.setOutboundHeaders(req, r)

	resp, err := f.client.Do(req)
	if err != nil {
		zctx.From(r.Context()).Error("proxy upload failed",
			zap.String("target", baseURL+path),
			zap.Error(err),
		)
		respond.AuthError(w, r, auth.Unavailable("Service unavailable"))
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		respond.AuthError(w, r, auth.Unavailable("Service unavailable"))
		return
	}

	f.writeUpstream(w, resp, respBody)
}

// setOutboundHeaders propagates client credentials and attaches the internal
// service key.
func (f *Forwarder) setOutboundHeaders(req *http.Request, inbound *http.Request) {
	if v := inbound.Header.Get("Authorization"); v != "" {
		req.Header.Set("Authorization", v)
	}
	if v := inbound.Header.Get("Cookie"); v != "" {
		req.Header.Set("Cookie", v)
	}
	req.Header.Set(internalKeyHeader, f.internalKey)
}

// writeUpstream relays status, Set-Cookie headers, content type, and body.
func (f *Forwarder) writeUpstream(w http.ResponseWriter, resp *http.Response, body []byte) {
	for _, cookie := range resp.Header.Values("Set-Cookie") {
		w.Header().Add("Set-Cookie", cookie)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}
