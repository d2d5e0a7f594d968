package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ---------------------------------------------------------------------------
// DecodedClaims — normalized view of a verified token's claims
// ---------------------------------------------------------------------------

// DecodedClaims is the normalized claim set extracted from a verified token.
// Standard OIDC claims are lifted into typed fields; Raw retains the full
// claim map for policy checks against non-standard claims.
type DecodedClaims struct {
	// Subject is the stable provider identifier for the principal ("sub").
	Subject string `json:"sub"`

	// Email is the "email" claim, or empty if absent.
	Email string `json:"email,omitempty"`

	// Name is the "name" claim, or empty if absent.
	Name string `json:"name,omitempty"`

	// GivenName is the "given_name" claim, or empty if absent.
	GivenName string `json:"given_name,omitempty"`

	// FamilyName is the "family_name" claim, or empty if absent.
	FamilyName string `json:"family_name,omitempty"`

	// PreferredUsername is the "preferred_username" claim, or empty if
	// absent.
	PreferredUsername string `json:"preferred_username,omitempty"`

	// Issuer is the "iss" claim.
	Issuer string `json:"iss"`

	// Audience holds the "aud" claim normalized to a list. A scalar aud
	// becomes a single-element list.
	Audience []string `json:"aud,omitempty"`

	// ExpiresAt is the "exp" claim, or the zero time if absent.
	ExpiresAt time.Time `json:"exp,omitempty"`

	// IssuedAt is the "iat" claim, or the zero time if absent.
	IssuedAt time.Time `json:"iat,omitempty"`

	// Scopes holds the token's OAuth scopes, merged from the
	// space-delimited "scope" claim and the list-valued "scp" claim.
	Scopes []string `json:"scopes,omitempty"`

	// Roles holds the token's role claims, read from "roles" or "role"
	// (string or list form).
	Roles []string `json:"roles,omitempty"`

	// Raw is the complete claim map as received, for checks against
	// claims not lifted into typed fields.
	Raw map[string]any `json:"-"`
}

// HasScope reports whether the token carries the given scope.
func (c *DecodedClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasRole reports whether the token carries the given role claim.
func (c *DecodedClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAudience reports whether the given audience value is present in the
// token's audience list.
func (c *DecodedClaims) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return false
}

// newDecodedClaims builds a DecodedClaims from a verified claim map.
func newDecodedClaims(mc jwt.MapClaims) *DecodedClaims {
	raw := make(map[string]any, len(mc))
	for k, v := range mc {
		raw[k] = v
	}

	dc := &DecodedClaims{
		Subject:           stringClaim(raw, "sub"),
		Email:             stringClaim(raw, "email"),
		Name:              stringClaim(raw, "name"),
		GivenName:         stringClaim(raw, "given_name"),
		FamilyName:        stringClaim(raw, "family_name"),
		PreferredUsername: stringClaim(raw, "preferred_username"),
		Issuer:            stringClaim(raw, "iss"),
		Audience:          audienceClaim(raw),
		Scopes:            scopeClaims(raw),
		Roles:             roleClaims(raw),
		Raw:               raw,
	}

	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		dc.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		dc.IssuedAt = iat.Time
	}

	return dc
}

// stringClaim returns the named claim as a string, or empty if the claim
// is absent or not a string.
func stringClaim(raw map[string]any, name string) string {
	s, _ := raw[name].(string)
	return s
}

// audienceClaim normalizes the "aud" claim to a list. Providers emit either
// a single string or a list of strings; both forms are accepted.
func audienceClaim(raw map[string]any) []string {
	switch aud := raw["aud"].(type) {
	case string:
		if aud == "" {
			return nil
		}
		return []string{aud}
	case []any:
		return stringList(aud)
	case []string:
		return aud
	default:
		return nil
	}
}

// scopeClaims extracts OAuth scopes from the token. The OAuth convention is
// a space-delimited "scope" string; some providers (notably Azure AD) emit
// a list-valued "scp" claim instead. Both sources are merged.
func scopeClaims(raw map[string]any) []string {
	var scopes []string

	if s, ok := raw["scope"].(string); ok && s != "" {
		scopes = append(scopes, strings.Fields(s)...)
	}

	switch scp := raw["scp"].(type) {
	case string:
		if scp != "" {
			scopes = append(scopes, strings.Fields(scp)...)
		}
	case []any:
		scopes = append(scopes, stringList(scp)...)
	case []string:
		scopes = append(scopes, scp...)
	}

	return dedupe(scopes)
}

// roleClaims extracts role claims from "roles" or "role", accepting both
// string and list forms.
func roleClaims(raw map[string]any) []string {
	var roles []string
	for _, name := range []string{"roles", "role"} {
		switch v := raw[name].(type) {
		case string:
			if v != "" {
				roles = append(roles, v)
			}
		case []any:
			roles = append(roles, stringList(v)...)
		case []string:
			roles = append(roles, v...)
		}
	}
	return dedupe(roles)
}

// stringList converts a []any of strings to []string, skipping non-string
// elements.
func stringList(vals []any) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// dedupe removes duplicate entries while preserving first-seen order.
func dedupe(vals []string) []string {
	if len(vals) < 2 {
		return vals
	}
	seen := make(map[string]struct{}, len(vals))
	out := vals[:0]
	for _, v := range vals {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
