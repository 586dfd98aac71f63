package session

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Storage sentinels. The postgres layer maps driver errors onto these so the
// issuer never inspects driver types.
var (
	// ErrNotFound reports that no row matched. For refresh tokens a forged,
	// tampered, already-consumed, or never-issued token all surface as
	// ErrNotFound; callers must not distinguish them.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate reports a unique-constraint violation.
	ErrDuplicate = errors.New("duplicate")
)

// RefreshToken is the stored record for one rotating refresh token. Only the
// SHA-256 of the plaintext is ever persisted; the plaintext is returned to
// the caller exactly once at issuance.
type RefreshToken struct {
	TokenHash     string
	OwnerID       string
	OwnerUsername string
	ExpiresAt     time.Time
}

// TokenStore persists hashed refresh tokens with single-use semantics.
type TokenStore interface {
	// Insert stores a new token record.
	Insert(ctx context.Context, rec RefreshToken) error
	// Consume atomically deletes the record with the given hash and returns
	// it. When two callers present the same hash concurrently, at most one
	// receives the record; the other gets ErrNotFound.
	Consume(ctx context.Context, hash string) (*RefreshToken, error)
	// DeleteByOwner removes every token belonging to ownerID, revoking all
	// of the user's sessions.
	DeleteByOwner(ctx context.Context, ownerID string) error
	// DeleteExpired removes records whose expiry has passed and reports how
	// many were dropped.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ActionToken is a hashed single-use token for an out-of-band flow (email
// verification, password reset).
type ActionToken struct {
	TokenHash string
	UserID    string
	Purpose   string
	ExpiresAt time.Time
}

// Action token purposes.
const (
	PurposeVerifyEmail   = "verify_email"
	PurposeResetPassword = "reset_password"
)

// ActionTokenStore persists hashed action tokens.
type ActionTokenStore interface {
	Insert(ctx context.Context, rec ActionToken) error
	// Consume atomically deletes and returns the record matching hash and
	// purpose, with the same at-most-one-winner guarantee as refresh tokens.
	Consume(ctx context.Context, hash, purpose string) (*ActionToken, error)
}

// User is the identity-store projection the trust layer needs. Domain
// profile data lives in the user service and is out of scope here.
type User struct {
	ID            string
	Username      string
	Email         string
	PasswordHash  string
	Role          string
	EmailVerified bool
}

// UserStore is the identity store consumed as a collaborator.
type UserStore interface {
	Create(ctx context.Context, u User) error
	// FindByLogin resolves a user by username or email.
	FindByLogin(ctx context.Context, login string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	SetEmailVerified(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// Mailer dispatches verification and reset tokens to an address. The email
// service is a black-box collaborator; failures are logged, not surfaced to
// clients.
type Mailer interface {
	SendVerification(ctx context.Context, address, token string) error
	SendPasswordReset(ctx context.Context, address, token string) error
}
