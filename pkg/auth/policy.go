package auth

import (
	"time"

	hderr "github.com/HelioDesk/heliodesk-auth/pkg/errors"
)

// ---------------------------------------------------------------------------
// ValidationMethod — selects the signature verification path
// ---------------------------------------------------------------------------

// ValidationMethod selects how token signatures are verified.
type ValidationMethod string

const (
	// ValidationJWKS verifies signatures against public keys fetched from
	// the identity provider's JWKS endpoint (asymmetric algorithms such
	// as RS256 or ES256).
	ValidationJWKS ValidationMethod = "JWKS"

	// ValidationSharedSecret verifies signatures with a pre-shared HMAC
	// secret (HS256, HS384, or HS512).
	ValidationSharedSecret ValidationMethod = "SHARED_SECRET"
)

// ---------------------------------------------------------------------------
// JWTPolicyConfig — per-deployment bearer authentication policy
// ---------------------------------------------------------------------------

// JWTPolicyConfig is the complete bearer-token authentication policy for a
// deployment. It controls signature verification, claim checks, identity
// mapping, and automatic user provisioning.
//
// The configuration is typically loaded with the config package from layered
// YAML files and environment variables. Map-valued fields (CustomClaims,
// RoleMapping) can only be set from files.
type JWTPolicyConfig struct {
	// Enabled controls whether bearer-token authentication is active.
	// When false, the validator rejects every token with a configuration
	// error rather than silently passing requests through. Defaults to
	// false.
	Enabled bool `env:"ENABLED" envDefault:"false" yaml:"enabled" json:"enabled"`

	// ValidationMethod selects the signature verification path. Must be
	// "JWKS" or "SHARED_SECRET" when Enabled is true.
	ValidationMethod ValidationMethod `env:"VALIDATION_METHOD" yaml:"validation_method" json:"validation_method"`

	// Algorithm is the only signing algorithm accepted for this policy
	// (e.g. "RS256"). Tokens whose header declares a different algorithm
	// are rejected before any key material is fetched. For
	// SHARED_SECRET it defaults to "HS256"; for JWKS it must be set
	// explicitly.
	Algorithm string `env:"ALGORITHM" yaml:"algorithm" json:"algorithm"`

	// Issuer is the expected "iss" claim. Tokens with a different issuer
	// are rejected. Required when Enabled is true.
	Issuer string `env:"ISSUER" yaml:"issuer" json:"issuer"`

	// Audience is the expected audience. A token's "aud" claim may be a
	// single string or a list; the token is accepted if the expected
	// value is present. If empty, the audience claim is not checked.
	Audience string `env:"AUDIENCE" yaml:"audience" json:"audience,omitempty"`

	// JWKSURI is the explicit JWKS endpoint URL. If empty and
	// ValidationMethod is JWKS, the endpoint is discovered from
	// DiscoveryIssuer via the OIDC well-known document.
	JWKSURI string `env:"JWKS_URI" yaml:"jwks_uri" json:"jwks_uri,omitempty"`

	// DiscoveryIssuer is the identity provider base URL used for OIDC
	// discovery when JWKSURI is empty. The resolver appends
	// "/.well-known/openid-configuration" to locate the JWKS endpoint.
	// If empty, Issuer is used.
	DiscoveryIssuer string `env:"DISCOVERY_ISSUER" yaml:"discovery_issuer" json:"discovery_issuer,omitempty"`

	// SecretKey is the HMAC shared secret for SHARED_SECRET validation.
	// Must be non-empty when ValidationMethod is SHARED_SECRET. The
	// Secret type prevents accidental logging of the key value.
	SecretKey Secret `env:"SECRET_KEY" yaml:"secret_key" json:"-"`

	// RequiredScopes lists OAuth scopes the token must carry. Scopes are
	// read from the space-delimited "scope" claim or the list-valued
	// "scp" claim. All listed scopes must be present.
	RequiredScopes []string `env:"REQUIRED_SCOPES" yaml:"required_scopes" json:"required_scopes,omitempty"`

	// CustomClaims maps claim names to exact required values. Every
	// listed claim must be present in the token and equal to the
	// configured value. File-only.
	CustomClaims map[string]any `yaml:"custom_claims" json:"custom_claims,omitempty"`

	// AutoProvision controls whether users unknown to the local store
	// are created automatically from token claims. Defaults to false.
	AutoProvision bool `env:"AUTO_PROVISION" envDefault:"false" yaml:"auto_provision" json:"auto_provision"`

	// AllowedEmailDomains restricts auto-provisioning to email addresses
	// in the listed domains (matched case-insensitively against the part
	// after "@"). If empty, any domain is allowed.
	AllowedEmailDomains []string `env:"ALLOWED_EMAIL_DOMAINS" yaml:"allowed_email_domains" json:"allowed_email_domains,omitempty"`

	// RequiredClaimsForProvisioning lists claim names that must be
	// present and non-empty in the token before a user is provisioned.
	RequiredClaimsForProvisioning []string `env:"REQUIRED_PROVISION_CLAIMS" yaml:"required_claims_for_provisioning" json:"required_claims_for_provisioning,omitempty"`

	// RequiredRolesForProvisioning lists token roles of which at least
	// one must be present before a user is provisioned. If empty, no
	// role gate is applied.
	RequiredRolesForProvisioning []string `env:"REQUIRED_PROVISION_ROLES" yaml:"required_roles_for_provisioning" json:"required_roles_for_provisioning,omitempty"`

	// DefaultRoles are the local roles granted to every provisioned user.
	DefaultRoles []string `env:"DEFAULT_ROLES" yaml:"default_roles" json:"default_roles,omitempty"`

	// RoleMapping maps a token role name to the local roles it grants.
	// Token roles with no mapping are ignored. File-only.
	RoleMapping map[string][]string `yaml:"jwt_role_to_local_role" json:"jwt_role_to_local_role,omitempty"`

	// UsernameMappingAllowed controls whether identity resolution may
	// fall back to matching the token's preferred_username claim against
	// local usernames. Disabled by default because usernames are
	// reassignable in many directories while subjects are not.
	UsernameMappingAllowed bool `env:"USERNAME_MAPPING_ALLOWED" envDefault:"false" yaml:"username_mapping_allowed" json:"username_mapping_allowed"`

	// KeyCacheTTL is the time a fetched signing key is cached before
	// being refreshed from the provider. Must be non-negative.
	// Defaults to 1 hour.
	KeyCacheTTL time.Duration `env:"KEY_CACHE_TTL" envDefault:"1h" yaml:"key_cache_ttl" json:"key_cache_ttl"`

	// ClockSkew is the maximum allowed clock difference between this
	// service and the token issuer. Tokens within this window of their
	// expiration or not-before times are still considered valid. Must
	// be non-negative. Defaults to 30 seconds.
	ClockSkew time.Duration `env:"CLOCK_SKEW" envDefault:"30s" yaml:"clock_skew" json:"clock_skew"`
}

// DefaultPolicyConfig returns a JWTPolicyConfig with defaults applied.
// Authentication is disabled by default; a deployment must opt in and
// configure an issuer and verification material.
func DefaultPolicyConfig() JWTPolicyConfig {
	return JWTPolicyConfig{
		Enabled:     false,
		KeyCacheTTL: 1 * time.Hour,
		ClockSkew:   30 * time.Second,
	}
}

// jwksSource returns the key source for this policy: the explicit JWKS URI
// if set, otherwise an empty URI plus the issuer to discover it from.
func (c *JWTPolicyConfig) jwksSource() (jwksURI, discoveryIssuer string) {
	if c.JWKSURI != "" {
		return c.JWKSURI, ""
	}
	if c.DiscoveryIssuer != "" {
		return "", c.DiscoveryIssuer
	}
	return "", c.Issuer
}

// effectiveAlgorithm returns the configured algorithm, applying the HS256
// default for shared-secret policies.
func (c *JWTPolicyConfig) effectiveAlgorithm() string {
	if c.Algorithm == "" && c.ValidationMethod == ValidationSharedSecret {
		return "HS256"
	}
	return c.Algorithm
}

// Validate checks the policy for logical correctness and returns a
// *[hderr.Error] with code [hderr.CodeValidation] if any field is invalid.
// A disabled policy is always valid; the validator reports the disabled
// state at request time instead.
//
// Validation rules:
//   - ValidationMethod must be JWKS or SHARED_SECRET
//   - Issuer must not be empty
//   - If JWKS: Algorithm must be set, and one of JWKSURI, DiscoveryIssuer,
//     or Issuer must provide a key source
//   - If SHARED_SECRET: SecretKey must be at least 32 bytes
//   - KeyCacheTTL and ClockSkew must be non-negative
func (c *JWTPolicyConfig) Validate() *hderr.Error {
	if !c.Enabled {
		return nil
	}

	switch c.ValidationMethod {
	case ValidationJWKS:
		if c.Algorithm == "" {
			return hderr.New(hderr.CodeValidation, "auth: algorithm must be set for JWKS validation")
		}
		if c.JWKSURI == "" && c.DiscoveryIssuer == "" && c.Issuer == "" {
			return hderr.New(hderr.CodeValidation, "auth: JWKS validation requires jwks_uri, discovery_issuer, or issuer")
		}
	case ValidationSharedSecret:
		if len(c.SecretKey.Value()) < 32 {
			return hderr.New(hderr.CodeValidation, "auth: shared secret must be at least 32 bytes")
		}
	default:
		return hderr.Newf(hderr.CodeValidation, "auth: unknown validation method %q", string(c.ValidationMethod))
	}

	if c.Issuer == "" {
		return hderr.New(hderr.CodeValidation, "auth: issuer must not be empty")
	}

	if c.KeyCacheTTL < 0 {
		return hderr.New(hderr.CodeValidation, "auth: key cache TTL must be non-negative")
	}
	if c.ClockSkew < 0 {
		return hderr.New(hderr.CodeValidation, "auth: clock skew must be non-negative")
	}

	return nil
}
