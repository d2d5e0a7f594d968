package auth

import (
	"context"
	"log/slog"

	hderr "github.com/HelioDesk/heliodesk-auth/pkg/errors"
	"github.com/HelioDesk/heliodesk-auth/pkg/userstore"
)

// ---------------------------------------------------------------------------
// SessionEstablisher — turns a resolved user into a request identity
// ---------------------------------------------------------------------------

// SessionEstablisher builds the [AuthContext] for a resolved user. Every
// authentication outcome, whether the user pre-existed or was just
// provisioned, flows through this single step, so account-state checks
// live in exactly one place.
type SessionEstablisher interface {
	// Establish returns the AuthContext for the user, or a *hderr.Error
	// with code [hderr.CodeAuthorizationAccountDisabled] if the account
	// is disabled.
	Establish(ctx context.Context, user *userstore.User, claims *DecodedClaims) (*AuthContext, error)
}

// ContextSessionEstablisher is the standard [SessionEstablisher]. It checks
// the account state and materializes the AuthContext; it does not persist
// anything.
type ContextSessionEstablisher struct {
	logger *slog.Logger
}

// NewSessionEstablisher creates a ContextSessionEstablisher. If logger is
// nil, slog.Default() is used.
func NewSessionEstablisher(logger *slog.Logger) *ContextSessionEstablisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextSessionEstablisher{logger: logger}
}

// Compile-time interface compliance check.
var _ SessionEstablisher = (*ContextSessionEstablisher)(nil)

// Establish builds the AuthContext for the user. A disabled account is
// rejected here, after identity resolution and provisioning, so the check
// applies uniformly to every path into an authenticated request.
func (e *ContextSessionEstablisher) Establish(ctx context.Context, user *userstore.User, claims *DecodedClaims) (*AuthContext, error) {
	if !user.Enabled {
		e.logger.WarnContext(ctx, "auth: rejected disabled account",
			"user_id", user.ID,
			"email", user.Email,
		)
		return nil, hderr.New(hderr.CodeAuthorizationAccountDisabled,
			"auth: account is disabled")
	}

	return &AuthContext{
		UserID: user.ID,
		Email:  user.Email,
		Roles:  user.Roles,
		Claims: claims,
		Method: MethodJWT,
	}, nil
}
