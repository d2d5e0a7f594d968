// Package auth implements bearer-token authentication for HelioDesk
// services acting as an OIDC relying party.
//
// The pipeline turns an incoming JWT into an authenticated request
// identity in four stages, each behind its own interface:
//
//   - [TokenValidator] verifies the token signature (via JWKS key
//     resolution or a shared HMAC secret) and applies the claims policy.
//   - [IdentityMapper] resolves the verified claims to a local user,
//     trying the provider subject link, then email, then username.
//   - [Provisioner] optionally creates a local user for verified but
//     unknown identities, under the policy's provisioning gates.
//   - [SessionEstablisher] checks account state and materializes the
//     [AuthContext] attached to the request.
//
// [Authenticator] wires the stages together and provides the HTTP
// middleware. [Handlers] exposes identity introspection and operational
// endpoints (JWKS diagnostics, key cache invalidation).
//
// Everything is configured by a single [JWTPolicyConfig], typically loaded
// with the config package from layered YAML files and environment
// variables.
package auth
