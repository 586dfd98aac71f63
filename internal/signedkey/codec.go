// Package signedkey implements self-contained HMAC-authenticated bearer
// credentials. A key embeds its owner and issue time in the signed payload,
// so the perimeter can verify it without a database lookup and expire it by
// age without a revocation store.
package signedkey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Prefix identifies signed gateway keys. A credential carrying this prefix
// is always treated as a signed key, never as the static secret.
const Prefix = "cs_"

// signatureLen is the number of base64url characters kept from the full
// HMAC-SHA256 signature.
const signatureLen = 32

// randomLen is the number of random bytes appended to each payload.
const randomLen = 4

// Key holds the claims recovered from a validated signed key.
type Key struct {
	// UserID is the owner embedded in the payload. It may itself contain
	// underscores.
	UserID string
	// IssuedAt is the Unix-seconds issue timestamp embedded in the payload.
	IssuedAt int64
}

// Codec generates and validates signed keys with a shared HMAC secret.
type Codec struct {
	secret []byte
}

// New creates a Codec signing with the given secret.
func New(secret []byte) *Codec {
	return &Codec{secret: secret}
}

// Generate issues a new signed key for userID.
// Format: cs_<userID>_<unixSeconds>_<8 hex chars>.<32 base64url chars>.
func (c *Codec) Generate(userID string) (string, error) {
	buf := make([]byte, randomLen)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generate key entropy")
	}

	payload := Prefix + userID + "_" + strconv.FormatInt(time.Now().Unix(), 10) + "_" + hex.EncodeToString(buf)
	return payload + "." + c.sign(payload), nil
}

// Validate checks the structure and signature of key and recovers its
// claims. The second result is false for any malformed, unsigned, or
// tampered key. Expiry is a separate concern; see IsExpired.
func (c *Codec) Validate(key string) (Key, bool) {
	payload, sig, found := strings.Cut(key, ".")
	if !found || strings.Contains(sig, ".") {
		return Key{}, false
	}
	if !strings.HasPrefix(payload, Prefix) {
		return Key{}, false
	}

	// Constant-time comparison so signature probing leaks no timing signal.
	if !hmac.Equal([]byte(sig), []byte(c.sign(payload))) {
		return Key{}, false
	}

	// The last token is the random suffix, the second-to-last the issue
	// timestamp. Remaining leading tokens rejoined with "_" form the user
	// ID, which supports IDs containing underscores.
	parts := strings.Split(payload[len(Prefix):], "_")
	if len(parts) < 3 {
		return Key{}, false
	}
	ts, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return Key{}, false
	}

	return Key{
		UserID:   strings.Join(parts[:len(parts)-2], "_"),
		IssuedAt: ts,
	}, true
}

// IsExpired reports whether a key issued at issuedAt has outlived maxAge.
// A key exactly at the boundary is still valid.
func IsExpired(issuedAt int64, maxAge time.Duration) bool {
	return expiredAt(issuedAt, int64(maxAge.Seconds()), time.Now().Unix())
}

func expiredAt(issuedAt, maxAgeSeconds, nowUnix int64) bool {
	return nowUnix-issuedAt > maxAgeSeconds
}

// sign computes the truncated base64url HMAC-SHA256 of payload.
func (c *Codec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if len(sig) > signatureLen {
		sig = sig[:signatureLen]
	}
	return sig
}
