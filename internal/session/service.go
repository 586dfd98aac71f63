// Package session implements the per-user session lifecycle: registration,
// rate-limited password login, JWT issuance, single-use refresh token
// rotation, logout, and the email verification and password reset flows.
package session

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/forkful/gateway/internal/domain/auth"
	"github.com/forkful/gateway/pkg/slidingwindow"
)

const (
	refreshTokenTTL = 7 * 24 * time.Hour
	verifyTokenTTL  = 24 * time.Hour
	resetTokenTTL   = time.Hour

	// Failed password comparisons allowed per identifier per minute.
	passwordAttemptMax    = 3
	passwordAttemptWindow = time.Minute
)

// Credentials is the result of a successful login or refresh. RefreshToken
// is the only copy of the plaintext; it is never stored.
type Credentials struct {
	UserID       string
	Username     string
	Role         string
	AccessToken  string
	RefreshToken string
}

// RegisterRequest holds the input for creating an account.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

// IssuerConfig holds the non-dependency knobs of the Issuer.
type IssuerConfig struct {
	// JWTSecret signs session tokens.
	JWTSecret []byte
	// JWTTTL bounds session token lifetime.
	JWTTTL time.Duration
}

// Issuer orchestrates the session lifecycle against the identity and token
// stores. All failures it returns are typed auth errors; the HTTP boundary
// translates them once.
type Issuer struct {
	cfg      IssuerConfig
	users    UserStore
	tokens   TokenStore
	actions  ActionTokenStore
	mailer   Mailer
	attempts *slidingwindow.Limiter
}

// NewIssuer creates an Issuer with the required collaborators. The password
// attempt limiter is owned by the issuer and keyed by login identifier.
func NewIssuer(cfg IssuerConfig, users UserStore, tokens TokenStore, actions ActionTokenStore, mailer Mailer) *Issuer {
	if cfg.JWTTTL <= 0 {
		cfg.JWTTTL = 24 * time.Hour
	}
	return &Issuer{
		cfg:      cfg,
		users:    users,
		tokens:   tokens,
		actions:  actions,
		mailer:   mailer,
		attempts: slidingwindow.New(passwordAttemptMax, passwordAttemptWindow),
	}
}

// Register creates an account with a bcrypt-hashed password and dispatches an
// email verification token. The account cannot log in until verified.
func (s *Issuer) Register(ctx context.Context, req RegisterRequest) error {
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return auth.BadRequest("Username, email and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}

	user := User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         "user",
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return auth.Conflict("Username or email already in use")
		}
		return errors.Wrap(err, "create user")
	}

	s.dispatchActionToken(ctx, &user, PurposeVerifyEmail)
	return nil
}

// Login verifies the password under the per-identifier attempt limiter,
// requires a verified email, and issues a session JWT plus refresh token.
func (s *Issuer) Login(ctx context.Context, login, password string) (*Credentials, error) {
	// Refuse before touching the password hash when the identifier is
	// already locked out.
	if s.attempts.AtLimit(login) {
		return nil, auth.Unauthorized("Too many attempts")
	}

	user, err := s.users.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, auth.Unauthorized("Invalid username or password")
		}
		return nil, errors.Wrap(err, "find user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		// Record the failure, then re-check: a caller that raced past the
		// pre-check can push the count over the limit here.
		if s.attempts.Record(login) > passwordAttemptMax {
			return nil, auth.Unauthorized("Too many attempts")
		}
		return nil, auth.Unauthorized("Invalid username or password")
	}
	s.attempts.Reset(login)

	if !user.EmailVerified {
		return nil, auth.Unauthorized("Email address not verified")
	}

	return s.issue(ctx, user)
}

// Refresh rotates a refresh token: the presented plaintext is consumed
// atomically (at most one concurrent caller wins), the owner's current role
// is re-resolved from the identity store, and a fresh token pair is issued.
func (s *Issuer) Refresh(ctx context.Context, plaintext string) (*Credentials, error) {
	rec, err := s.tokens.Consume(ctx, HashToken(plaintext))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, auth.BadRequest("Invalid or expired refresh token")
		}
		return nil, errors.Wrap(err, "consume refresh token")
	}
	if time.Now().After(rec.ExpiresAt) {
		// Consuming already removed the expired record.
		return nil, auth.BadRequest("Invalid or expired refresh token")
	}

	// A stale role must never survive a refresh boundary.
	user, err := s.users.FindByID(ctx, rec.OwnerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, auth.BadRequest("Invalid or expired refresh token")
		}
		return nil, errors.Wrap(err, "resolve token owner")
	}

	return s.issue(ctx, user)
}

// Logout revokes the presented refresh token. Revoking an absent token is a
// no-op so logout stays idempotent.
func (s *Issuer) Logout(ctx context.Context, plaintext string) error {
	if plaintext == "" {
		return nil
	}
	if _, err := s.tokens.Consume(ctx, HashToken(plaintext)); err != nil && !errors.Is(err, ErrNotFound) {
		return errors.Wrap(err, "revoke refresh token")
	}
	return nil
}

// RevokeAll drops every refresh token owned by userID.
func (s *Issuer) RevokeAll(ctx context.Context, userID string) error {
	if err := s.tokens.DeleteByOwner(ctx, userID); err != nil {
		return errors.Wrap(err, "revoke sessions")
	}
	return nil
}

// VerifyEmail consumes an email verification token and marks the account
// verified.
func (s *Issuer) VerifyEmail(ctx context.Context, token string) error {
	rec, err := s.consumeAction(ctx, token, PurposeVerifyEmail)
	if err != nil {
		return err
	}
	if err := s.users.SetEmailVerified(ctx, rec.UserID); err != nil {
		return errors.Wrap(err, "mark email verified")
	}
	return nil
}

// RequestPasswordReset dispatches a reset token for the account owning
// email. An unknown address is silently accepted so the endpoint cannot be
// used to enumerate accounts.
func (s *Issuer) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.FindByLogin(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "find user")
	}
	s.dispatchActionToken(ctx, user, PurposeResetPassword)
	return nil
}

// ResetPassword consumes a reset token, replaces the password hash, and
// revokes every session the user holds.
func (s *Issuer) ResetPassword(ctx context.Context, token, newPassword string) error {
	if newPassword == "" {
		return auth.BadRequest("Password is required")
	}

	rec, err := s.consumeAction(ctx, token, PurposeResetPassword)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	if err := s.users.UpdatePassword(ctx, rec.UserID, string(hash)); err != nil {
		return errors.Wrap(err, "update password")
	}
	return s.RevokeAll(ctx, rec.UserID)
}

// issue builds a session JWT and a fresh refresh token for the user, storing
// only the refresh token's hash.
func (s *Issuer) issue(ctx context.Context, user *User) (*Credentials, error) {
	access, err := signJWT(s.cfg.JWTSecret, s.cfg.JWTTTL, user)
	if err != nil {
		return nil, err
	}

	plaintext, err := newOpaqueToken(refreshTokenBytes)
	if err != nil {
		return nil, err
	}
	err = s.tokens.Insert(ctx, RefreshToken{
		TokenHash:     HashToken(plaintext),
		OwnerID:       user.ID,
		OwnerUsername: user.Username,
		ExpiresAt:     time.Now().Add(refreshTokenTTL),
	})
	if err != nil {
		return nil, errors.Wrap(err, "store refresh token")
	}

	return &Credentials{
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		AccessToken:  access,
		RefreshToken: plaintext,
	}, nil
}

// consumeAction resolves a single-use action token, folding absence and
// expiry into one indistinguishable client error.
func (s *Issuer) consumeAction(ctx context.Context, token, purpose string) (*ActionToken, error) {
	if token == "" {
		return nil, auth.BadRequest("Invalid or expired token")
	}
	rec, err := s.actions.Consume(ctx, HashToken(token), purpose)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, auth.BadRequest("Invalid or expired token")
		}
		return nil, errors.Wrap(err, "consume action token")
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, auth.BadRequest("Invalid or expired token")
	}
	return rec, nil
}

// dispatchActionToken issues a hashed single-use token and hands the
// plaintext to the mailer. Mail failures are logged and swallowed: the core
// operation already succeeded.
func (s *Issuer) dispatchActionToken(ctx context.Context, user *User, purpose string) {
	lg := zctx.From(ctx)

	plaintext, err := newOpaqueToken(actionTokenBytes)
	if err != nil {
		lg.Error("generate action token", zap.Error(err))
		return
	}

	ttl := verifyTokenTTL
	if purpose == PurposeResetPassword {
		ttl = resetTokenTTL
	}
	err = s.actions.Insert(ctx, ActionToken{
		TokenHash: HashToken(plaintext),
		UserID:    user.ID,
		Purpose:   purpose,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		lg.Error("store action token", zap.Error(err), zap.String("purpose", purpose))
		return
	}

	switch purpose {
	case PurposeResetPassword:
		err = s.mailer.SendPasswordReset(ctx, user.Email, plaintext)
	default:
		err = s.mailer.SendVerification(ctx, user.Email, plaintext)
	}
	if err != nil {
		lg.Error("dispatch mail", zap.Error(err), zap.String("purpose", purpose))
	}
}
