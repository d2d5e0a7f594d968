package auth

import (
	"context"
	"log/slog"

	hderr "github.com/HelioDesk/heliodesk-auth/pkg/errors"
	"github.com/HelioDesk/heliodesk-auth/pkg/userstore"
)

// ---------------------------------------------------------------------------
// IdentityMapper — resolves verified claims to a local user
// ---------------------------------------------------------------------------

// IdentityMapper resolves a verified token's claims to a local user record.
type IdentityMapper interface {
	// ResolveUser returns the local user for the given claims, or a
	// *hderr.Error with code [hderr.CodeAuthenticationIdentityNotFound]
	// when no local user matches.
	ResolveUser(ctx context.Context, claims *DecodedClaims) (*userstore.User, error)
}

// StoreIdentityMapper is the standard [IdentityMapper], backed by a
// [userstore.Store]. Resolution tries identifiers from most to least
// stable:
//
//  1. Identity link by provider subject. Subjects are immutable at the
//     provider, so a link match is authoritative.
//  2. Email claim. On a match, an identity link for the subject is
//     written best-effort so future requests resolve by subject.
//  3. preferred_username claim, only when the policy allows username
//     mapping. Also backfills the identity link on a match.
//
// Only enabled users are matched; a disabled account behaves as if it does
// not exist at this stage.
type StoreIdentityMapper struct {
	store  userstore.Store
	policy JWTPolicyConfig
	logger *slog.Logger
}

// NewIdentityMapper creates a StoreIdentityMapper. If logger is nil,
// slog.Default() is used.
func NewIdentityMapper(store userstore.Store, policy JWTPolicyConfig, logger *slog.Logger) *StoreIdentityMapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreIdentityMapper{store: store, policy: policy, logger: logger}
}

// Compile-time interface compliance check.
var _ IdentityMapper = (*StoreIdentityMapper)(nil)

// ResolveUser resolves the claims to a local user, trying subject link,
// then email, then username.
func (m *StoreIdentityMapper) ResolveUser(ctx context.Context, claims *DecodedClaims) (*userstore.User, error) {
	if claims.Subject != "" {
		user, err := m.store.FindBySubject(ctx, claims.Subject)
		if err == nil {
			return user, nil
		}
		if !hderr.IsNotFound(err) {
			return nil, err
		}
	}

	if claims.Email != "" {
		user, err := m.store.FindByEmail(ctx, claims.Email)
		if err == nil {
			m.backfillLink(ctx, claims.Subject, user)
			return user, nil
		}
		if !hderr.IsNotFound(err) {
			return nil, err
		}
	}

	if m.policy.UsernameMappingAllowed && claims.PreferredUsername != "" {
		user, err := m.store.FindByUsername(ctx, claims.PreferredUsername)
		if err == nil {
			m.backfillLink(ctx, claims.Subject, user)
			return user, nil
		}
		if !hderr.IsNotFound(err) {
			return nil, err
		}
	}

	return nil, hderr.New(hderr.CodeAuthenticationIdentityNotFound,
		"auth: no local user matches the token identity")
}

// backfillLink writes an identity link for the subject after a match on a
// secondary identifier. Failures are logged and ignored: the user was
// already resolved, and the link will be retried on the next request.
func (m *StoreIdentityMapper) backfillLink(ctx context.Context, subject string, user *userstore.User) {
	if subject == "" {
		return
	}
	if err := m.store.UpsertIdentityLink(ctx, subject, user.ID); err != nil {
		m.logger.WarnContext(ctx, "auth: failed to backfill identity link",
			"subject", subject,
			"user_id", user.ID,
			"error", err,
		)
	}
}
