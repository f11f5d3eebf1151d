// Package auth issues and verifies the bearer tokens a client presents to the
// sandbox service. The session engine never inspects tokens; these helpers
// run before a connection is opened.
package auth

import (
	"context"
	"errors"
)

var (
	// ErrInvalidToken is wrapped by every verification failure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for a token past its exp claim.
	ErrTokenExpired = errors.New("token expired")
)

// Principal represents the authenticated entity after successful token
// validation. It can carry claims from the token.
type Principal interface {
	// GetClaims returns the claims associated with the principal.
	GetClaims() interface{}
	// GetSubject returns a unique identifier for the principal ('sub' claim).
	GetSubject() string
}

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	// VerifyToken returns the token's principal, or an error wrapping
	// ErrInvalidToken.
	VerifyToken(ctx context.Context, token string) (Principal, error)
}

// principalKeyType is the context key for storing the authenticated Principal.
type principalKeyType struct{}

var principalKey = principalKeyType{}

// ContextWithPrincipal returns a new context with the given Principal embedded.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFromContext retrieves the Principal from the context, if present.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey).(Principal)
	return principal, ok
}
