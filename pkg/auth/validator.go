package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	hderr "github.com/HelioDesk/heliodesk-auth/pkg/errors"
)

// maxTokenSize is the maximum accepted size for a JWT token string (8 KB).
// Tokens larger than this are rejected to prevent resource exhaustion.
const maxTokenSize = 8192

// ---------------------------------------------------------------------------
// TokenValidator — verifies bearer tokens and returns their claims
// ---------------------------------------------------------------------------

// TokenValidator verifies a bearer token string and returns its decoded
// claims. Implementations must verify the signature before applying any
// claim policy, and must never return claims from an unverified token.
type TokenValidator interface {
	// ValidateToken verifies the token and returns its claims.
	//
	// Error codes returned:
	//   - [hderr.CodeAuthenticationConfig]: token authentication is
	//     disabled or misconfigured
	//   - [hderr.CodeAuthenticationExpired]: token expired or not yet
	//     valid
	//   - [hderr.CodeAuthenticationInvalid]: malformed token, signature
	//     failure, or algorithm mismatch
	//   - [hderr.CodeAuthenticationPolicy]: signature verified but a
	//     claim check failed
	//   - [hderr.CodeAuthenticationKeyFetch], [hderr.CodeAuthenticationKeyNotFound]:
	//     key material could not be obtained
	ValidateToken(ctx context.Context, tokenStr string) (*DecodedClaims, error)
}

// JWTValidator is the standard [TokenValidator]. It routes signature
// verification by the policy's validation method (JWKS or shared secret),
// then applies the claims policy to the verified claims.
//
// JWTValidator is safe for concurrent use by multiple goroutines.
type JWTValidator struct {
	policy   JWTPolicyConfig
	resolver KeyResolver
	engine   ClaimsPolicyEngine
	tracer   trace.Tracer
}

// Compile-time interface compliance check.
var _ TokenValidator = (*JWTValidator)(nil)

// NewJWTValidator creates a JWTValidator for the given policy. The policy
// is validated before use. A resolver is required for JWKS policies and
// ignored for shared-secret policies.
func NewJWTValidator(policy JWTPolicyConfig, resolver KeyResolver) (*JWTValidator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if policy.Enabled && policy.ValidationMethod == ValidationJWKS && resolver == nil {
		return nil, hderr.New(hderr.CodeValidation,
			"auth: JWKS validation requires a key resolver")
	}
	return &JWTValidator{
		policy:   policy,
		resolver: resolver,
		engine:   NewPolicyEngine(policy),
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// ValidateToken verifies the token string and returns its decoded claims.
//
// The method performs the following steps:
//  1. Rejects requests when token authentication is disabled
//  2. Rejects empty or oversized tokens
//  3. Parses the token without verification to read the header
//  4. Rejects alg:none and any algorithm other than the policy's
//  5. Verifies the signature via JWKS key resolution or the shared secret
//  6. Applies the claims policy (issuer, audience, scopes, custom claims)
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenStr string) (*DecodedClaims, error) {
	ctx, span := v.tracer.Start(ctx, "auth.ValidateToken")
	defer span.End()

	if !v.policy.Enabled {
		err := hderr.New(hderr.CodeAuthenticationConfig,
			"auth: bearer token authentication is not enabled")
		finishSpan(span, err)
		return nil, err
	}

	if tokenStr == "" {
		err := hderr.New(hderr.CodeAuthenticationInvalid, "auth: token must not be empty")
		finishSpan(span, err)
		return nil, err
	}
	if len(tokenStr) > maxTokenSize {
		err := hderr.New(hderr.CodeAuthenticationInvalid, "auth: token exceeds maximum size")
		finishSpan(span, err)
		return nil, err
	}

	// Parse without verification to read the header. The claims are not
	// trusted until the signed parse below succeeds.
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil || unverified == nil {
		parseErr := hderr.New(hderr.CodeAuthenticationInvalid, "auth: token is malformed")
		finishSpan(span, parseErr)
		return nil, parseErr
	}

	algStr, _ := unverified.Header["alg"].(string)

	// Reject alg:none — critical security check.
	if strings.EqualFold(algStr, "none") {
		err := hderr.New(hderr.CodeAuthenticationInvalid, "auth: algorithm 'none' is not permitted")
		finishSpan(span, err)
		return nil, err
	}

	expectedAlg := v.policy.effectiveAlgorithm()
	if !strings.EqualFold(algStr, expectedAlg) {
		err := hderr.Newf(hderr.CodeAuthenticationInvalid,
			"auth: token algorithm %q does not match policy algorithm %q", algStr, expectedAlg)
		finishSpan(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("auth.alg", algStr),
		attribute.String("auth.validation_method", string(v.policy.ValidationMethod)),
	)

	var token *jwt.Token
	switch v.policy.ValidationMethod {
	case ValidationJWKS:
		token, err = v.parseJWKS(ctx, tokenStr, unverified, expectedAlg)
	case ValidationSharedSecret:
		token, err = v.parseSharedSecret(tokenStr, expectedAlg)
	default:
		err = hderr.Newf(hderr.CodeAuthenticationConfig,
			"auth: unknown validation method %q", string(v.policy.ValidationMethod))
	}
	if err != nil {
		classified := classifyError(err)
		finishSpan(span, classified)
		return nil, classified
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		err := hderr.New(hderr.CodeAuthenticationInvalid, "auth: unable to extract token claims")
		finishSpan(span, err)
		return nil, err
	}

	claims := newDecodedClaims(mc)

	if err := v.engine.Check(claims); err != nil {
		finishSpan(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("auth.subject", claims.Subject))
	return claims, nil
}

// parseJWKS verifies the token against a public key resolved from the
// provider's JWKS.
func (v *JWTValidator) parseJWKS(ctx context.Context, tokenStr string, unverified *jwt.Token, alg string) (*jwt.Token, error) {
	// The kid may legitimately be absent; the resolver then selects the
	// provider's first published key.
	kid, _ := unverified.Header["kid"].(string)

	key, err := v.resolver.ResolveKey(ctx, kid)
	if err != nil {
		return nil, err
	}

	return jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		return key, nil
	}, v.parserOptions(alg)...)
}

// parseSharedSecret verifies the token with the policy's HMAC secret.
func (v *JWTValidator) parseSharedSecret(tokenStr, alg string) (*jwt.Token, error) {
	return jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		return []byte(v.policy.SecretKey.Value()), nil
	}, v.parserOptions(alg)...)
}

// parserOptions builds the jwt parser options shared by both verification
// paths. jwt.WithValidMethods restricts accepted algorithms to the policy's
// single algorithm, preventing algorithm confusion attacks where an
// RSA-signed policy would otherwise accept an HMAC token signed with the
// public key bytes.
func (v *JWTValidator) parserOptions(alg string) []jwt.ParserOption {
	// Issuer and audience are deliberately not enforced here. The policy
	// engine checks them after signature verification so that a wrong
	// issuer or audience surfaces as a policy violation rather than a
	// token parse failure.
	return []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithLeeway(v.policy.ClockSkew),
	}
}

// classifyError converts a JWT library error or other error to an
// appropriate *hderr.Error with the correct error code. If the error is
// already an *hderr.Error, it is returned as-is.
func classifyError(err error) *hderr.Error {
	if err == nil {
		return nil
	}

	var hdError *hderr.Error
	if errors.As(err, &hdError) {
		return hdError
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return hderr.Wrap(err, hderr.CodeAuthenticationExpired, "auth: token has expired")
	}
	if errors.Is(err, jwt.ErrTokenNotValidYet) {
		return hderr.Wrap(err, hderr.CodeAuthenticationExpired, "auth: token is not yet valid")
	}
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return hderr.Wrap(err, hderr.CodeAuthenticationInvalid, "auth: token is malformed")
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrSignatureInvalid) {
		return hderr.Wrap(err, hderr.CodeAuthenticationInvalid, "auth: token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return hderr.Wrap(err, hderr.CodeAuthenticationInvalid, "auth: token is unverifiable")
	}
	if errors.Is(err, jwt.ErrTokenInvalidAudience) {
		return hderr.Wrap(err, hderr.CodeAuthenticationInvalid, "auth: token audience is invalid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidIssuer) {
		return hderr.Wrap(err, hderr.CodeAuthenticationInvalid, "auth: token issuer is invalid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidClaims) {
		return hderr.Wrap(err, hderr.CodeAuthenticationInvalid, "auth: token claims are invalid")
	}

	return hderr.Wrap(err, hderr.CodeAuthenticationInvalid, "auth: token validation failed")
}

// finishSpan records an error on the span if err is non-nil and sets the
// span status to Error. This is a helper for consistent error recording
// across the authentication pipeline.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
