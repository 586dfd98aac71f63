package session

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/forkful/gateway/internal/domain/auth"
)

// jwtIssuer names this gateway in the iss claim.
const jwtIssuer = "forkful-gateway"

// Claims is the session JWT payload. The subject claim carries the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

// signJWT issues an HS256 session token for the user.
func signJWT(secret []byte, ttl time.Duration, u *User) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: u.Username,
		Role:     u.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "sign session token")
	}
	return signed, nil
}

// ParseJWT verifies an HS256 session token and recovers the user session.
// Any parse or validation failure, including expiry, yields a typed
// Unauthorized error.
func ParseJWT(secret []byte, tokenString string) (auth.Session, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return auth.Session{}, auth.Unauthorized("Invalid or expired session token")
	}

	return auth.Session{
		UserID:   claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}
