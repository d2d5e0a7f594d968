package auth

import (
	"fmt"
	"reflect"

	hderr "github.com/HelioDesk/heliodesk-auth/pkg/errors"
)

// ---------------------------------------------------------------------------
// PolicyEngine — claim checks applied after signature verification
// ---------------------------------------------------------------------------

// ClaimsPolicyEngine checks a verified token's claims against the deployment
// policy. Implementations must not perform any signature verification; they
// see claims only after the validator has verified them.
type ClaimsPolicyEngine interface {
	// Check returns nil if the claims satisfy the policy, or a
	// *hderr.Error with code [hderr.CodeAuthenticationPolicy] describing
	// the first violation found.
	Check(claims *DecodedClaims) error

	// Report returns every violation rather than stopping at the first.
	// It is intended for diagnostics, not for the request path.
	Report(claims *DecodedClaims) []string
}

// PolicyEngine is the standard [ClaimsPolicyEngine]. Checks run in a fixed
// order: issuer, audience, required scopes, then custom claims. The first
// failing check determines the returned error.
type PolicyEngine struct {
	policy JWTPolicyConfig
}

// NewPolicyEngine creates a PolicyEngine for the given policy.
func NewPolicyEngine(policy JWTPolicyConfig) *PolicyEngine {
	return &PolicyEngine{policy: policy}
}

// Compile-time interface compliance check.
var _ ClaimsPolicyEngine = (*PolicyEngine)(nil)

// Check returns nil if the claims satisfy the policy, or an error for the
// first violation in check order.
func (e *PolicyEngine) Check(claims *DecodedClaims) error {
	if msg := e.firstViolation(claims); msg != "" {
		return hderr.New(hderr.CodeAuthenticationPolicy, "auth: "+msg)
	}
	return nil
}

// Report returns all violations in check order. An empty slice means the
// claims satisfy the policy.
func (e *PolicyEngine) Report(claims *DecodedClaims) []string {
	return e.violations(claims, false)
}

func (e *PolicyEngine) firstViolation(claims *DecodedClaims) string {
	if v := e.violations(claims, true); len(v) > 0 {
		return v[0]
	}
	return ""
}

// violations evaluates the policy checks in order. When firstOnly is set,
// evaluation stops at the first failure.
func (e *PolicyEngine) violations(claims *DecodedClaims, firstOnly bool) []string {
	var out []string
	add := func(msg string) bool {
		out = append(out, msg)
		return firstOnly
	}

	// Issuer: exact match.
	if e.policy.Issuer != "" && claims.Issuer != e.policy.Issuer {
		if add(fmt.Sprintf("token issuer %q does not match expected issuer", claims.Issuer)) {
			return out
		}
	}

	// Audience: expected value must appear in the normalized list.
	if e.policy.Audience != "" && !claims.HasAudience(e.policy.Audience) {
		if add("token audience does not include the expected audience") {
			return out
		}
	}

	// Required scopes: all must be present.
	for _, scope := range e.policy.RequiredScopes {
		if !claims.HasScope(scope) {
			if add(fmt.Sprintf("token is missing required scope %q", scope)) {
				return out
			}
		}
	}

	// Custom claims: each must be present and equal to the configured
	// value. Equality is type-sensitive; a policy value of "true" does
	// not match a boolean claim.
	for name, want := range e.policy.CustomClaims {
		got, ok := claims.Raw[name]
		if !ok {
			if add(fmt.Sprintf("token is missing required claim %q", name)) {
				return out
			}
			continue
		}
		if !claimValueEqual(got, want) {
			if add(fmt.Sprintf("token claim %q does not match the required value", name)) {
				return out
			}
		}
	}

	return out
}

// claimValueEqual compares a token claim value with a policy value.
// Numeric values are compared as float64 since JSON decoding in the token
// path and YAML decoding in the policy path produce different Go types for
// the same number. All other comparisons are strict.
func claimValueEqual(got, want any) bool {
	gf, gok := toFloat(got)
	wf, wok := toFloat(want)
	if gok && wok {
		return gf == wf
	}
	if gok != wok {
		return false
	}
	return reflect.DeepEqual(got, want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
