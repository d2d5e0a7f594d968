package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	hderr "github.com/HelioDesk/heliodesk-auth/pkg/errors"
)

// ---------------------------------------------------------------------------
// HTTPClient interface
// ---------------------------------------------------------------------------

// HTTPClient abstracts the HTTP client used for fetching JWKS and OIDC
// discovery documents. This allows callers to provide custom HTTP clients
// with specific timeouts, transport settings, or middleware.
//
// The standard [http.Client] satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// fetchTimeout bounds each JWKS or discovery fetch. Key material is on the
// request path, so a slow provider must fail fast rather than hold requests.
const fetchTimeout = 10 * time.Second

// userAgent identifies this library in requests to identity providers.
const userAgent = "heliodesk-auth/1.0"

// maxFetchBytes limits JWKS and discovery response bodies (1 MB).
const maxFetchBytes = 1 << 20

// ---------------------------------------------------------------------------
// JWK — a single key from a JWKS document
// ---------------------------------------------------------------------------

// JWK is a single JSON Web Key as served by a JWKS endpoint. Only the
// fields needed for RSA and EC public key reconstruction are included.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	// RSA fields
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`
	// EC fields
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// PublicKey reconstructs the crypto public key described by the JWK.
// Supports RSA and ECDSA (P-256, P-384, P-521). Returns an error for any
// other key type, including octet (symmetric) keys, which must never be
// served by a JWKS endpoint.
func (k *JWK) PublicKey() (any, error) {
	switch k.Kty {
	case "RSA":
		return parseRSAPublicKey(k.N, k.E)
	case "EC":
		return parseECPublicKey(k.Crv, k.X, k.Y)
	default:
		return nil, fmt.Errorf("auth: unsupported key type %q", k.Kty)
	}
}

// jwksDocument represents the JSON structure of a JWKS endpoint response.
type jwksDocument struct {
	Keys []JWK `json:"keys"`
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}

// parseECPublicKey constructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded x and y coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("auth: unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// ---------------------------------------------------------------------------
// KeyResolver — locates verification keys for JWKS-validated tokens
// ---------------------------------------------------------------------------

// KeyResolver locates the public key that should verify a token's
// signature, identified by the key ID from the token header. An empty kid
// selects the provider's first published key, which covers providers that
// publish a single key without key IDs.
type KeyResolver interface {
	// ResolveKey returns the public key (an *rsa.PublicKey or
	// *ecdsa.PublicKey) for the given key ID.
	//
	// Error codes returned:
	//   - [hderr.CodeAuthenticationKeyFetch]: endpoint unreachable or
	//     returned an unusable response
	//   - [hderr.CodeAuthenticationKeyNotFound]: key set retrieved but
	//     no usable key matched
	ResolveKey(ctx context.Context, kid string) (any, error)

	// InvalidateKeys removes all cached key material, forcing the next
	// resolution to fetch fresh keys from the provider.
	InvalidateKeys(ctx context.Context) error
}

// tracerName is the OpenTelemetry instrumentation scope name for auth spans.
const tracerName = "github.com/HelioDesk/heliodesk-auth/pkg/auth"

// CachingKeyResolver is the standard [KeyResolver]. It serves keys from a
// [KeyCache] and fetches the provider's JWKS on a miss. The JWKS endpoint
// is either configured explicitly or discovered once from the provider's
// .well-known/openid-configuration document.
//
// Fetches happen outside any cache lock, so concurrent misses may fetch
// the key set more than once; the last writer wins in the cache, which is
// harmless because all fetches observe the same provider state.
//
// CachingKeyResolver is safe for concurrent use by multiple goroutines.
type CachingKeyResolver struct {
	jwksURI         string
	discoveryIssuer string
	cache           KeyCache
	client          HTTPClient
	tracer          trace.Tracer

	// discovered memoizes the JWKS URL found via OIDC discovery.
	discoveredURL string
	discoveryMu   sync.Mutex
}

// NewKeyResolver creates a CachingKeyResolver for the given policy. If
// client is nil, a default [http.Client] with a 10-second timeout is used.
func NewKeyResolver(policy JWTPolicyConfig, cache KeyCache, client HTTPClient) *CachingKeyResolver {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	jwksURI, discoveryIssuer := policy.jwksSource()
	return &CachingKeyResolver{
		jwksURI:         jwksURI,
		discoveryIssuer: discoveryIssuer,
		cache:           cache,
		client:          client,
		tracer:          otel.Tracer(tracerName),
	}
}

// Compile-time interface compliance check.
var _ KeyResolver = (*CachingKeyResolver)(nil)

// ResolveKey returns the public key for the given key ID, fetching the
// provider's JWKS on a cache miss.
func (r *CachingKeyResolver) ResolveKey(ctx context.Context, kid string) (any, error) {
	ctx, span := r.tracer.Start(ctx, "auth.ResolveKey")
	defer span.End()
	span.SetAttributes(attribute.String("auth.kid", kid))

	jwksURL, err := r.endpoint(ctx)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}

	if cached, ok := r.cache.Get(ctx, jwksURL, kid); ok {
		span.SetAttributes(attribute.Bool("auth.key_cache_hit", true))
		key, parseErr := cached.PublicKey()
		if parseErr == nil {
			return key, nil
		}
		// Corrupt cache entry; fall through to a fresh fetch.
	}
	span.SetAttributes(attribute.Bool("auth.key_cache_hit", false))

	doc, err := r.fetchKeySet(ctx, jwksURL)
	if err != nil {
		wrapped := hderr.Wrap(err, hderr.CodeAuthenticationKeyFetch,
			"auth: failed to fetch JWKS")
		finishSpan(span, wrapped)
		return nil, wrapped
	}

	selected, err := selectKey(doc.Keys, kid)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}

	key, err := selected.PublicKey()
	if err != nil {
		wrapped := hderr.Wrap(err, hderr.CodeAuthenticationKeyNotFound,
			"auth: JWKS contains no usable key")
		finishSpan(span, wrapped)
		return nil, wrapped
	}

	// Cache every fetched key under its own kid so sibling keys from the
	// same fetch are warm, plus the selected key under the requested slot
	// when the token carried no kid.
	for i := range doc.Keys {
		if doc.Keys[i].Kid != "" {
			k := doc.Keys[i]
			r.cache.Put(ctx, jwksURL, k.Kid, &k)
		}
	}
	if kid == "" {
		r.cache.Put(ctx, jwksURL, "", selected)
	}

	return key, nil
}

// InvalidateKeys removes all cached key material.
func (r *CachingKeyResolver) InvalidateKeys(ctx context.Context) error {
	return r.cache.InvalidateAll(ctx)
}

// KeySet fetches the provider's current key set directly, bypassing the
// cache. Used by the diagnostics handler to probe endpoint reachability.
func (r *CachingKeyResolver) KeySet(ctx context.Context) ([]JWK, error) {
	jwksURL, err := r.endpoint(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := r.fetchKeySet(ctx, jwksURL)
	if err != nil {
		return nil, hderr.Wrap(err, hderr.CodeAuthenticationKeyFetch,
			"auth: failed to fetch JWKS")
	}
	return doc.Keys, nil
}

// selectKey picks the key matching kid, or the first key when the token
// header carried no kid.
func selectKey(keys []JWK, kid string) (*JWK, error) {
	if len(keys) == 0 {
		return nil, hderr.New(hderr.CodeAuthenticationKeyNotFound,
			"auth: JWKS endpoint returned an empty key set")
	}
	if kid == "" {
		return &keys[0], nil
	}
	for i := range keys {
		if keys[i].Kid == kid {
			return &keys[i], nil
		}
	}
	return nil, hderr.Newf(hderr.CodeAuthenticationKeyNotFound,
		"auth: key ID %q not found in JWKS", kid)
}

// endpoint returns the JWKS URL, performing OIDC discovery on first use
// when no explicit URL is configured.
func (r *CachingKeyResolver) endpoint(ctx context.Context) (string, error) {
	if r.jwksURI != "" {
		return r.jwksURI, nil
	}

	r.discoveryMu.Lock()
	defer r.discoveryMu.Unlock()

	if r.discoveredURL != "" {
		return r.discoveredURL, nil
	}

	jwksURL, err := fetchOIDCDiscovery(ctx, r.discoveryIssuer, r.client)
	if err != nil {
		return "", hderr.Wrap(err, hderr.CodeAuthenticationKeyFetch,
			"auth: OIDC discovery failed")
	}
	r.discoveredURL = jwksURL
	return jwksURL, nil
}

// fetchKeySet makes an HTTP GET request to the JWKS URL and parses the
// response. The response body is limited to 1 MB.
func (r *CachingKeyResolver) fetchKeySet(ctx context.Context, jwksURL string) (*jwksDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to create JWKS request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: JWKS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read JWKS response: %w", err)
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("auth: failed to parse JWKS JSON: %w", err)
	}
	return &doc, nil
}

// oidcDiscoveryResponse represents the relevant fields from an OIDC
// provider's .well-known/openid-configuration document.
type oidcDiscoveryResponse struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// fetchOIDCDiscovery fetches the OIDC discovery document from the issuer's
// .well-known/openid-configuration endpoint and returns the JWKS URI.
func fetchOIDCDiscovery(ctx context.Context, issuerURL string, client HTTPClient) (string, error) {
	discoveryURL := strings.TrimRight(issuerURL, "/") + "/.well-known/openid-configuration"

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", fmt.Errorf("auth: failed to create OIDC discovery request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: OIDC discovery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth: OIDC discovery endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("auth: failed to read OIDC discovery response: %w", err)
	}

	var discovery oidcDiscoveryResponse
	if err := json.Unmarshal(body, &discovery); err != nil {
		return "", fmt.Errorf("auth: failed to parse OIDC discovery JSON: %w", err)
	}

	if discovery.JWKSURI == "" {
		return "", fmt.Errorf("auth: OIDC discovery document missing jwks_uri")
	}
	return discovery.JWKSURI, nil
}
