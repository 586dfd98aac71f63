package auth

import "context"

// GatewayID is the sentinel principal ID attached to requests authenticated
// with the static gateway secret rather than a user-bound signed key.
const GatewayID = "gateway"

// Principal is the identity resolved at the perimeter and attached to a
// request. It is never persisted by this layer.
type Principal struct {
	ID       string
	Username string
	Role     string
}

// IsGateway reports whether the principal is the trusted service-to-service
// sentinel rather than a human identity.
func (p Principal) IsGateway() bool {
	return p.ID == GatewayID
}

// Session is the per-user identity carried by a verified session token.
// It exists in addition to the perimeter Principal: user-scoped routes
// require both.
type Session struct {
	UserID   string
	Username string
	Role     string
}

type principalKey struct{}

type sessionKey struct{}

// WithPrincipal returns a context carrying the perimeter principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the perimeter principal from the context.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// WithSession returns a context carrying the verified user session.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom extracts the verified user session from the context.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
