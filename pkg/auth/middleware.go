package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	hderr "github.com/HelioDesk/heliodesk-auth/pkg/errors"
)

// HeaderAuthorization is the canonical authorization header name.
const HeaderAuthorization = "Authorization"

// bearerPrefix is the standard "Bearer " prefix for authorization tokens.
const bearerPrefix = "Bearer "

// ExtractBearerToken extracts the token from an authorization header value.
// It handles the "Bearer " prefix case-insensitively.
// Returns an empty string if the header is empty or does not have a bearer
// prefix.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return authHeader[len(bearerPrefix):]
}

// ---------------------------------------------------------------------------
// Authenticator — the full bearer authentication pipeline
// ---------------------------------------------------------------------------

// Authenticator wires the pipeline stages together: token validation,
// identity resolution, optional auto-provisioning, and session
// establishment. It is the single entry point used by the HTTP middleware
// and by non-HTTP callers (e.g. background job runners authenticating
// delegated tokens).
type Authenticator struct {
	validator   TokenValidator
	mapper      IdentityMapper
	provisioner Provisioner
	establisher SessionEstablisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewAuthenticator creates an Authenticator from the pipeline stages.
// The provisioner may be nil when auto-provisioning is disabled. If logger
// is nil, slog.Default() is used.
func NewAuthenticator(validator TokenValidator, mapper IdentityMapper, provisioner Provisioner, establisher SessionEstablisher, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		validator:   validator,
		mapper:      mapper,
		provisioner: provisioner,
		establisher: establisher,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}
}

// Authenticate runs the full pipeline for a bearer token and returns the
// established AuthContext.
//
// Pipeline order:
//  1. Validate the token (signature, lifetime, claims policy)
//  2. Resolve the claims to a local user
//  3. If no user matches and the policy allows it, auto-provision one
//  4. Establish the request identity (account-state check)
func (a *Authenticator) Authenticate(ctx context.Context, tokenStr string) (*AuthContext, error) {
	ctx, span := a.tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	claims, err := a.validator.ValidateToken(ctx, tokenStr)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}

	user, err := a.mapper.ResolveUser(ctx, claims)
	if err != nil {
		if !hderr.HasCode(err, hderr.CodeAuthenticationIdentityNotFound) {
			finishSpan(span, err)
			return nil, err
		}
		if a.provisioner == nil || !a.provisioner.ShouldProvision(claims) {
			finishSpan(span, err)
			return nil, err
		}
		user, err = a.provisioner.Provision(ctx, claims)
		if err != nil {
			finishSpan(span, err)
			return nil, err
		}
		span.SetAttributes(attribute.Bool("auth.provisioned", true))
	}

	ac, err := a.establisher.Establish(ctx, user, claims)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("auth.user_id", ac.UserID.String()),
		attribute.String("auth.method", string(ac.Method)),
	)
	return ac, nil
}

// ---------------------------------------------------------------------------
// HTTP middleware
// ---------------------------------------------------------------------------

// Middleware returns an HTTP middleware running the bearer authentication
// pipeline for API requests.
//
// Requests pass through untouched when the path matches none of the given
// API prefixes, or when the request carries no bearer token; session-based
// authentication for browser traffic is handled elsewhere. When a bearer
// token is present on an API path, the pipeline runs and either attaches
// the [AuthContext] to the request context or rejects the request with the
// error's HTTP status.
//
// A panic during authentication is recovered and reported as a generic
// authentication failure, never as a success.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/api/tickets", handleTickets)
//	handler := authn.Middleware("/api/")(mux)
//	http.ListenAndServe(":8080", handler)
func (a *Authenticator) Middleware(apiPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !pathMatches(r.URL.Path, apiPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ac, err := a.authenticateRequest(r.Context(), token)
			if err != nil {
				a.logger.WarnContext(r.Context(), "auth: request rejected",
					"path", r.URL.Path,
					"code", string(hderr.GetCode(err)),
					"error", err,
				)
				writeError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), ac)))
		})
	}
}

// authenticateRequest runs the pipeline with panic recovery. A panic in
// any stage becomes a generic authentication error so that a bug can
// never let a request through authenticated.
func (a *Authenticator) authenticateRequest(ctx context.Context, token string) (ac *AuthContext, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.ErrorContext(ctx, "auth: panic during authentication",
				"panic", rec,
			)
			ac = nil
			err = hderr.Internal("auth: authentication failed")
		}
	}()
	return a.Authenticate(ctx, token)
}

// pathMatches reports whether the path starts with any of the prefixes.
// An empty prefix list matches every path.
func pathMatches(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// errorResponse is the JSON body written for rejected requests.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes the platform error as a JSON response using the
// error's mapped HTTP status. Non-platform errors become a 500 with a
// generic message.
func writeError(w http.ResponseWriter, err error) {
	hdErr := hderr.FromError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(hdErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    string(hdErr.Code),
			Message: hdErr.Message,
		},
	})
}
