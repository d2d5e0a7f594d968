// Package errors provides standardized error types and error handling utilities
// for the HelioDesk platform. It defines common error categories, error codes,
// and helper functions for creating, wrapping, and inspecting errors across the
// authentication pipeline and the services built on it.
//
// # Error Categories
//
// The package defines several error categories that map to common failure scenarios:
//
//   - Validation errors: Invalid input, missing required fields
//   - Authentication errors: Invalid, expired, or unverifiable credentials,
//     claims policy violations, key material failures, unknown identities
//   - Authorization errors: Insufficient permissions, disabled accounts
//   - NotFound errors: Resource does not exist
//   - Conflict errors: Resource already exists, version mismatch
//   - Internal errors: Unexpected system failures
//   - Unavailable errors: Service temporarily unavailable
//   - Timeout errors: Operation exceeded time limit
//
// # Error Codes
//
// Each error includes a machine-readable code (e.g., "AUTH_002") that can be
// used for error tracking, alerting, and client-side error handling. Error
// codes follow the pattern: CATEGORY_XXX where CATEGORY is a short identifier
// and XXX is a numeric code. The AUTH_xxx range enumerates every distinct
// rejection the token authentication pipeline can produce, so callers can
// branch on error kind without parsing message text.
//
// # Usage
//
// Create a new error with context:
//
//	err := errors.New(errors.CodeAuthenticationExpired, "token has expired")
//
// Wrap an existing error:
//
//	err := errors.Wrap(err, errors.CodeAuthenticationKeyFetch, "failed to fetch JWKS")
//
// Check error category:
//
//	if errors.IsAuthentication(err) {
//	    // respond 401 Unauthorized
//	}
//
// Extract error details for logging:
//
//	if e, ok := errors.AsError(err); ok {
//	    logger.Error("request rejected",
//	        "code", e.Code,
//	        "message", e.Message,
//	    )
//	}
package errors
