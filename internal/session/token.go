package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// refreshTokenBytes is the entropy of a refresh token plaintext (512 bits).
const refreshTokenBytes = 64

// actionTokenBytes is the entropy of verification and reset tokens.
const actionTokenBytes = 32

// newOpaqueToken returns a base64url-encoded random token of n bytes.
func newOpaqueToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "token entropy")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken computes the hex SHA-256 of a token plaintext for storage and
// lookup. Stores never see the plaintext itself.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
