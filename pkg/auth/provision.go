package auth

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	hderr "github.com/HelioDesk/heliodesk-auth/pkg/errors"
	"github.com/HelioDesk/heliodesk-auth/pkg/userstore"
)

// ---------------------------------------------------------------------------
// Provisioner — creates local users from verified token claims
// ---------------------------------------------------------------------------

// Provisioner decides whether a verified but unknown identity may be
// auto-provisioned, and performs the provisioning.
type Provisioner interface {
	// ShouldProvision reports whether the claims satisfy every
	// provisioning gate in the policy. It performs no I/O.
	ShouldProvision(claims *DecodedClaims) bool

	// Provision creates a local user from the claims, or adopts a user
	// created concurrently by another request for the same identity.
	// Returns a *hderr.Error with code
	// [hderr.CodeAuthenticationProvisioning] on failure.
	Provision(ctx context.Context, claims *DecodedClaims) (*userstore.User, error)
}

// PolicyProvisioner is the standard [Provisioner]. Provisioning is
// idempotent per email address: concurrent requests for the same new
// identity race on the store's unique constraint, and the losers adopt the
// winner's user record.
type PolicyProvisioner struct {
	store  userstore.Store
	policy JWTPolicyConfig
	logger *slog.Logger

	// newID is injectable for deterministic tests.
	newID func() uuid.UUID
}

// NewProvisioner creates a PolicyProvisioner. If logger is nil,
// slog.Default() is used.
func NewProvisioner(store userstore.Store, policy JWTPolicyConfig, logger *slog.Logger) *PolicyProvisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyProvisioner{
		store:  store,
		policy: policy,
		logger: logger,
		newID:  uuid.New,
	}
}

// Compile-time interface compliance check.
var _ Provisioner = (*PolicyProvisioner)(nil)

// ShouldProvision reports whether the claims pass every provisioning gate:
//
//   - auto-provisioning is enabled in the policy
//   - the token carries a syntactically valid email address
//   - the email domain is allowed, if the policy restricts domains
//   - every required provisioning claim is present and non-empty
//   - at least one required provisioning role is present, if configured
func (p *PolicyProvisioner) ShouldProvision(claims *DecodedClaims) bool {
	if !p.policy.AutoProvision {
		return false
	}

	if !validEmail(claims.Email) {
		return false
	}
	if !p.emailDomainAllowed(claims.Email) {
		return false
	}

	for _, name := range p.policy.RequiredClaimsForProvisioning {
		if !claimPresent(claims.Raw[name]) {
			return false
		}
	}

	if len(p.policy.RequiredRolesForProvisioning) > 0 {
		matched := false
		for _, role := range p.policy.RequiredRolesForProvisioning {
			if claims.HasRole(role) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// Provision creates a local user from the claims. If a user with the same
// email already exists, or appears concurrently during creation, that user
// is adopted instead; provisioning must be idempotent under concurrent
// first requests for the same identity.
func (p *PolicyProvisioner) Provision(ctx context.Context, claims *DecodedClaims) (*userstore.User, error) {
	// Re-check by email first: the mapper only matches enabled users, so
	// a disabled user with this email would otherwise collide on create.
	existing, err := p.store.FindByEmail(ctx, claims.Email)
	if err == nil {
		p.linkSubject(ctx, claims.Subject, existing.ID)
		return existing, nil
	}
	if !hderr.IsNotFound(err) {
		return nil, hderr.Wrap(err, hderr.CodeAuthenticationProvisioning,
			"auth: provisioning pre-check failed")
	}

	user := p.userFromClaims(claims)

	if err := p.store.CreateUser(ctx, user); err != nil {
		if hderr.IsConflict(err) {
			// A concurrent request won the race; adopt its user.
			winner, findErr := p.store.FindByEmail(ctx, claims.Email)
			if findErr != nil {
				return nil, hderr.Wrap(findErr, hderr.CodeAuthenticationProvisioning,
					"auth: failed to adopt concurrently provisioned user")
			}
			p.linkSubject(ctx, claims.Subject, winner.ID)
			return winner, nil
		}
		return nil, hderr.Wrap(err, hderr.CodeAuthenticationProvisioning,
			"auth: failed to create user")
	}

	p.logger.InfoContext(ctx, "auth: auto-provisioned user",
		"user_id", user.ID,
		"email", user.Email,
		"roles", user.Roles,
	)

	p.linkSubject(ctx, claims.Subject, user.ID)
	return user, nil
}

// userFromClaims builds the user record to be created. Names fall back
// through name parts, the display name, and finally the email local part,
// so a record is never created with an empty name.
func (p *PolicyProvisioner) userFromClaims(claims *DecodedClaims) *userstore.User {
	first, last, full := deriveNames(claims)

	username := claims.PreferredUsername
	if username == "" {
		username = claims.Email
	}

	return &userstore.User{
		ID:        p.newID(),
		Email:     claims.Email,
		Username:  username,
		FirstName: first,
		LastName:  last,
		FullName:  full,
		Enabled:   true,
		Roles:     p.localRoles(claims),
	}
}

// localRoles computes the roles for a provisioned user: the policy's
// default roles plus the mapped form of each token role that has an entry
// in the role mapping.
func (p *PolicyProvisioner) localRoles(claims *DecodedClaims) []string {
	roles := make([]string, 0, len(p.policy.DefaultRoles))
	roles = append(roles, p.policy.DefaultRoles...)
	for _, tokenRole := range claims.Roles {
		roles = append(roles, p.policy.RoleMapping[tokenRole]...)
	}
	return dedupe(roles)
}

// linkSubject writes the identity link for a provisioned or adopted user.
// Failures are logged and ignored; the mapper backfills the link on the
// next request via the email path.
func (p *PolicyProvisioner) linkSubject(ctx context.Context, subject string, userID uuid.UUID) {
	if subject == "" {
		return
	}
	if err := p.store.UpsertIdentityLink(ctx, subject, userID); err != nil {
		p.logger.WarnContext(ctx, "auth: failed to link provisioned user",
			"subject", subject,
			"user_id", userID,
			"error", err,
		)
	}
}

// emailDomainAllowed checks the email's domain against the policy's
// allow-list. An empty allow-list permits any domain.
func (p *PolicyProvisioner) emailDomainAllowed(email string) bool {
	if len(p.policy.AllowedEmailDomains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, allowed := range p.policy.AllowedEmailDomains {
		if strings.ToLower(allowed) == domain {
			return true
		}
	}
	return false
}

// deriveNames extracts first, last, and full names from the claims. The
// full name falls back to joining the name parts, and finally to the email
// local part when the token carries no name claims at all.
func deriveNames(claims *DecodedClaims) (first, last, full string) {
	first = claims.GivenName
	last = claims.FamilyName
	full = claims.Name

	if full == "" {
		switch {
		case first != "" && last != "":
			full = first + " " + last
		case first != "":
			full = first
		case last != "":
			full = last
		default:
			full = emailLocalPart(claims.Email)
		}
	}
	if first == "" && last == "" && full != "" {
		parts := strings.Fields(full)
		first = parts[0]
		if len(parts) > 1 {
			last = strings.Join(parts[1:], " ")
		}
	}
	return first, last, full
}

// emailLocalPart returns the part of the address before the "@".
func emailLocalPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

// validEmail reports whether the string is a syntactically valid single
// email address.
func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// claimPresent reports whether a claim value is present and non-empty.
func claimPresent(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	default:
		return true
	}
}
