package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forkful/gateway/internal/session"
)

var _ session.TokenStore = (*TokenRepository)(nil)

// Bloom filter sizing for issued token hashes. At these parameters a forged
// token is answered from memory ~99.9% of the time.
const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
)

// TokenRepository stores hashed refresh tokens in PostgreSQL. A bloom filter
// of every issued hash fronts the table: a definite miss answers forged or
// garbage tokens without a round trip, while false positives and rotated
// hashes simply fall through to the database, so correctness never depends
// on the filter.
type TokenRepository struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	issued *bloom.BloomFilter
}

// NewTokenRepository returns a TokenRepository using the given pool. Call
// Warm before serving traffic so hashes issued by previous processes are in
// the filter.
func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{
		pool:   pool,
		issued: bloom.NewWithEstimates(bloomCapacity, bloomFPR),
	}
}

// Warm seeds the bloom filter with every stored token hash.
func (r *TokenRepository) Warm(ctx context.Context) error {
	rows, err := r.pool.Query(ctx, `SELECT token_hash FROM refresh_tokens`)
	if err != nil {
		return fmt.Errorf("loading token hashes: %w", err)
	}
	defer rows.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return fmt.Errorf("scanning token hash: %w", err)
		}
		r.issued.AddString(hash)
	}
	return rows.Err()
}

// Insert stores a new refresh token record and remembers its hash.
func (r *TokenRepository) Insert(ctx context.Context, rec session.RefreshToken) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO refresh_tokens (token_hash, owner_id, owner_username, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		rec.TokenHash, rec.OwnerID, rec.OwnerUsername, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting refresh token: %w", err)
	}

	r.mu.Lock()
	r.issued.AddString(rec.TokenHash)
	r.mu.Unlock()
	return nil
}

// Consume deletes and returns the record with the given hash in one
// statement. The conditional delete is what makes rotation race-safe: of two
// concurrent callers presenting the same hash, the row goes to exactly one;
// the other sees zero rows and gets session.ErrNotFound.
func (r *TokenRepository) Consume(ctx context.Context, hash string) (*session.RefreshToken, error) {
	r.mu.Lock()
	known := r.issued.TestString(hash)
	r.mu.Unlock()
	if !known {
		// Definitely never issued by this store.
		return nil, session.ErrNotFound
	}

	var rec session.RefreshToken
	err := r.pool.QueryRow(ctx,
		`DELETE FROM refresh_tokens
		 WHERE token_hash = $1
		 RETURNING token_hash, owner_id, owner_username, expires_at`,
		hash,
	).Scan(&rec.TokenHash, &rec.OwnerID, &rec.OwnerUsername, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("consuming refresh token: %w", err)
	}
	return &rec, nil
}

// DeleteByOwner revokes every refresh token belonging to ownerID.
func (r *TokenRepository) DeleteByOwner(ctx context.Context, ownerID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE owner_id = $1`, ownerID)
	if err != nil {
		return fmt.Errorf("deleting tokens for owner: %w", err)
	}
	return nil
}

// DeleteExpired drops records whose expiry has passed.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
