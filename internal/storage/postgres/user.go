package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forkful/gateway/internal/session"
)

var _ session.UserStore = (*UserRepository)(nil)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

// UserRepository is the identity store backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create inserts a new user. A duplicate username or email surfaces as
// session.ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, u session.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, role, email_verified)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.EmailVerified,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return session.ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// FindByLogin resolves a user by username or email.
func (r *UserRepository) FindByLogin(ctx context.Context, login string) (*session.User, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, role, email_verified
		 FROM users WHERE username = $1 OR email = $1`,
		login,
	))
}

// FindByID resolves a user by primary key.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*session.User, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, role, email_verified
		 FROM users WHERE id = $1`,
		id,
	))
}

// SetEmailVerified marks the user's email address as verified.
func (r *UserRepository) SetEmailVerified(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET email_verified = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking email verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the user's password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (r *UserRepository) scanOne(row pgx.Row) (*session.User, error) {
	var u session.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.EmailVerified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}
