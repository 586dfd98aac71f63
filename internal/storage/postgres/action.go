package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forkful/gateway/internal/session"
)

var _ session.ActionTokenStore = (*ActionTokenRepository)(nil)

// ActionTokenRepository stores hashed email-verification and password-reset
// tokens in PostgreSQL.
type ActionTokenRepository struct {
	pool *pgxpool.Pool
}

// NewActionTokenRepository returns an ActionTokenRepository using the given
// pool.
func NewActionTokenRepository(pool *pgxpool.Pool) *ActionTokenRepository {
	return &ActionTokenRepository{pool: pool}
}

// Insert stores a new action token record.
func (r *ActionTokenRepository) Insert(ctx context.Context, rec session.ActionToken) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO action_tokens (token_hash, user_id, purpose, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		rec.TokenHash, rec.UserID, rec.Purpose, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting action token: %w", err)
	}
	return nil
}

// Consume deletes and returns the record matching hash and purpose. Like
// refresh tokens, the conditional delete guarantees a single winner under
// concurrent presentation.
func (r *ActionTokenRepository) Consume(ctx context.Context, hash, purpose string) (*session.ActionToken, error) {
	var rec session.ActionToken
	err := r.pool.QueryRow(ctx,
		`DELETE FROM action_tokens
		 WHERE token_hash = $1 AND purpose = $2
		 RETURNING token_hash, user_id, purpose, expires_at`,
		hash, purpose,
	).Scan(&rec.TokenHash, &rec.UserID, &rec.Purpose, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("consuming action token: %w", err)
	}
	return &rec, nil
}
