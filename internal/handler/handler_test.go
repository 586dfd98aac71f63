package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forkful/gateway/internal/proxy"
	"github.com/forkful/gateway/internal/session"
	"github.com/forkful/gateway/internal/signedkey"
)

const (
	testGatewaySecret = "static-gateway-secret"
	testKeySecret     = "signed-key-secret"
	testJWTSecret     = "session-jwt-secret"
)

// memUsers is an in-memory session.UserStore.
type memUsers struct {
	mu    sync.Mutex
	users map[string]*session.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*session.User)}
}

func (m *memUsers) Create(_ context.Context, u session.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return session.ErrDuplicate
		}
	}
	m.users[u.ID] = &u
	return nil
}

func (m *memUsers) FindByLogin(_ context.Context, login string) (*session.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == login || u.Email == login {
			clone := *u
			return &clone, nil
		}
	}
	return nil, session.ErrNotFound
}

func (m *memUsers) FindByID(_ context.Context, id string) (*session.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memUsers) SetEmailVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return session.ErrNotFound
	}
	u.EmailVerified = true
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return session.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

// memTokens is an in-memory session.TokenStore with atomic Consume.
type memTokens struct {
	mu      sync.Mutex
	records map[string]session.RefreshToken
}

func newMemTokens() *memTokens {
	return &memTokens{records: make(map[string]session.RefreshToken)}
}

func (m *memTokens) Insert(_ context.Context, rec session.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.TokenHash] = rec
	return nil
}

func (m *memTokens) Consume(_ context.Context, hash string) (*session.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[hash]
	if !ok {
		return nil, session.ErrNotFound
	}
	delete(m.records, hash)
	return &rec, nil
}

func (m *memTokens) DeleteByOwner(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, rec := range m.records {
		if rec.OwnerID == ownerID {
			delete(m.records, hash)
		}
	}
	return nil
}

func (m *memTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, rec := range m.records {
		if rec.ExpiresAt.Before(now) {
			delete(m.records, hash)
			n++
		}
	}
	return n, nil
}

func (m *memTokens) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// memActions is an in-memory session.ActionTokenStore.
type memActions struct {
	mu      sync.Mutex
	records map[string]session.ActionToken
}

func newMemActions() *memActions {
	return &memActions{records: make(map[string]session.ActionToken)}
}

func (m *memActions) Insert(_ context.Context, rec session.ActionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.TokenHash] = rec
	return nil
}

func (m *memActions) Consume(_ context.Context, hash, purpose string) (*session.ActionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[hash]
	if !ok || rec.Purpose != purpose {
		return nil, session.ErrNotFound
	}
	delete(m.records, hash)
	return &rec, nil
}

// memMailer records dispatched tokens by address.
type memMailer struct {
	mu            sync.Mutex
	verifications map[string]string
	resets        map[string]string
}

func newMemMailer() *memMailer {
	return &memMailer{
		verifications: make(map[string]string),
		resets:        make(map[string]string),
	}
}

func (m *memMailer) SendVerification(_ context.Context, address, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[address] = token
	return nil
}

func (m *memMailer) SendPasswordReset(_ context.Context, address, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[address] = token
	return nil
}

func (m *memMailer) verificationFor(address string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifications[address]
}

// fixture wires a Handler against in-memory collaborators.
type fixture struct {
	handler *Handler
	codec   *signedkey.Codec
	issuer  *session.Issuer
	users   *memUsers
	tokens  *memTokens
	mailer  *memMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	users := newMemUsers()
	tokens := newMemTokens()
	mailer := newMemMailer()
	issuer := session.NewIssuer(session.IssuerConfig{
		JWTSecret: []byte(testJWTSecret),
		JWTTTL:    time.Hour,
	}, users, tokens, newMemActions(), mailer)

	codec := signedkey.New([]byte(testKeySecret))
	cfg := Config{
		GatewaySecret:   testGatewaySecret,
		SignedKeyMaxAge: time.Hour,
		JWTSecret:       []byte(testJWTSecret),
	}
	h := New(cfg, codec, issuer, proxy.NewForwarder("internal-secret", time.Second), proxy.NewHydrator("http://users.internal", "internal-secret", time.Second))

	return &fixture{
		handler: h,
		codec:   codec,
		issuer:  issuer,
		users:   users,
		tokens:  tokens,
		mailer:  mailer,
	}
}

// registerVerified creates a verified account ready to log in.
func (f *fixture) registerVerified(t *testing.T, username, email, password string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.issuer.Register(ctx, session.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	}))
	require.NoError(t, f.issuer.VerifyEmail(ctx, f.mailer.verificationFor(email)))
}

// doJSON performs a request with a JSON body against h and returns the
// recorder.
func doJSON(h http.Handler, method, target string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// decodeBody unmarshals the recorded JSON body into a map.
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
