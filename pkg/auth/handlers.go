package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	hderr "github.com/HelioDesk/heliodesk-auth/pkg/errors"
)

// ---------------------------------------------------------------------------
// HTTP handlers — identity introspection and operational endpoints
// ---------------------------------------------------------------------------

// Handlers bundles the HTTP endpoints exposed by the authentication
// pipeline: identity introspection for clients and diagnostics plus cache
// invalidation for operators.
type Handlers struct {
	policy   JWTPolicyConfig
	resolver *CachingKeyResolver
	logger   *slog.Logger
}

// NewHandlers creates the endpoint set. The resolver may be nil for
// shared-secret deployments; the diagnostics handler then skips the JWKS
// probe. If logger is nil, slog.Default() is used.
func NewHandlers(policy JWTPolicyConfig, resolver *CachingKeyResolver, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{policy: policy, resolver: resolver, logger: logger}
}

// meResponse is the identity view returned to authenticated clients. Only
// a safe subset of claims is exposed; raw claims can carry values the
// client should not see (e.g. internal group identifiers).
type meResponse struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
	Method string   `json:"authenticated_via"`

	Subject  string   `json:"subject,omitempty"`
	Name     string   `json:"name,omitempty"`
	Issuer   string   `json:"issuer,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	IssuedAt string   `json:"issued_at,omitempty"`
}

// Me returns the authenticated identity for the current request. Responds
// 401 if the request carries no authentication context.
func (h *Handlers) Me() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, ok := AuthFromContext(r.Context())
		if !ok {
			writeError(w, hderr.Unauthorized("auth: request is not authenticated"))
			return
		}

		resp := meResponse{
			UserID: ac.UserID.String(),
			Email:  ac.Email,
			Roles:  ac.Roles,
			Method: string(ac.Method),
		}
		if ac.Claims != nil {
			resp.Subject = ac.Claims.Subject
			resp.Name = ac.Claims.Name
			resp.Issuer = ac.Claims.Issuer
			resp.Scopes = ac.Claims.Scopes
			if !ac.Claims.IssuedAt.IsZero() {
				resp.IssuedAt = ac.Claims.IssuedAt.UTC().Format(time.RFC3339)
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// diagnosticsResponse summarizes the effective policy and key source
// health. Secrets and full key material are never included.
type diagnosticsResponse struct {
	Enabled          bool   `json:"enabled"`
	ValidationMethod string `json:"validation_method,omitempty"`
	Algorithm        string `json:"algorithm,omitempty"`
	Issuer           string `json:"issuer,omitempty"`
	AudienceChecked  bool   `json:"audience_checked"`
	RequiredScopes   int    `json:"required_scopes"`
	CustomClaims     int    `json:"custom_claims"`
	AutoProvision    bool   `json:"auto_provision"`

	JWKSReachable bool   `json:"jwks_reachable,omitempty"`
	JWKSError     string `json:"jwks_error,omitempty"`
	KeyCount      int    `json:"key_count,omitempty"`
	SampleKid     string `json:"sample_kid,omitempty"`
}

// Diagnostics reports the effective policy and, for JWKS policies, probes
// the key endpoint. Intended for operators debugging a misconfigured
// identity provider; gate it with [RequireRole].
func (h *Handlers) Diagnostics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := diagnosticsResponse{
			Enabled:          h.policy.Enabled,
			ValidationMethod: string(h.policy.ValidationMethod),
			Algorithm:        h.policy.effectiveAlgorithm(),
			Issuer:           h.policy.Issuer,
			AudienceChecked:  h.policy.Audience != "",
			RequiredScopes:   len(h.policy.RequiredScopes),
			CustomClaims:     len(h.policy.CustomClaims),
			AutoProvision:    h.policy.AutoProvision,
		}

		if h.resolver != nil && h.policy.ValidationMethod == ValidationJWKS {
			keys, err := h.resolver.KeySet(r.Context())
			if err != nil {
				resp.JWKSError = err.Error()
			} else {
				resp.JWKSReachable = true
				resp.KeyCount = len(keys)
				if len(keys) > 0 {
					resp.SampleKid = keys[0].Kid
				}
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// InvalidateKeys removes all cached signing keys, forcing fresh fetches.
// Used after an emergency key rotation at the identity provider. Gate it
// with [RequireRole].
func (h *Handlers) InvalidateKeys() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, hderr.Validation("auth: use POST to invalidate keys"))
			return
		}
		if h.resolver == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "no key cache configured"})
			return
		}
		if err := h.resolver.InvalidateKeys(r.Context()); err != nil {
			h.logger.ErrorContext(r.Context(), "auth: key cache invalidation failed", "error", err)
			writeError(w, err)
			return
		}
		h.logger.InfoContext(r.Context(), "auth: key cache invalidated")
		writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
	}
}

// RequireRole returns a middleware that rejects requests whose
// authenticated user lacks the given local role. Responds 401 when the
// request is unauthenticated and 403 when the role is missing.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := AuthFromContext(r.Context())
			if !ok {
				writeError(w, hderr.Unauthorized("auth: request is not authenticated"))
				return
			}
			if !ac.HasRole(role) {
				writeError(w, hderr.Forbidden("auth: missing required role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
