package auth

import (
	"context"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// AuthContext — the authenticated request identity
// ---------------------------------------------------------------------------

// AuthMethod records how a request was authenticated.
type AuthMethod string

const (
	// MethodJWT marks requests authenticated by a verified bearer token.
	MethodJWT AuthMethod = "jwt"

	// MethodSession marks requests authenticated by a pre-existing
	// session mechanism outside this package.
	MethodSession AuthMethod = "session"
)

// AuthContext is the explicit authentication result attached to a request
// after the pipeline completes. Handlers read it instead of re-deriving
// identity from claims.
type AuthContext struct {
	// UserID is the local user's id.
	UserID uuid.UUID

	// Email is the local user's email address.
	Email string

	// Roles are the local user's role names at establishment time.
	Roles []string

	// Claims are the verified token claims, or nil for session
	// authentication.
	Claims *DecodedClaims

	// Method records how the request was authenticated.
	Method AuthMethod
}

// HasRole reports whether the authenticated user holds the given local role.
func (a *AuthContext) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// contextKey is an unexported type used for context keys in this package.
// Using an unexported type prevents collisions with keys from other packages.
type contextKey int

const authContextKey contextKey = iota

// ContextWithAuth returns a new context carrying the authentication result.
func ContextWithAuth(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// AuthFromContext extracts the authentication result from the context.
// Returns the AuthContext and true if present, or nil and false otherwise.
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey).(*AuthContext)
	return ac, ok
}
