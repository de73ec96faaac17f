// Package auth provides JWT authentication for print-bridge.
//
// # Overview
//
// Agents and API clients authenticate with HS256-signed JWT tokens. The
// shared secret comes from the auth.jwt_secret configuration key; when it is
// empty, authentication is disabled and all requests are accepted.
//
// The caller identity is carried in the token's "sub" claim: a tenant id for
// agents, a service name for API clients. Verified subjects are attached to
// the request context for logging.
//
// # Usage
//
// Verify tokens:
//
//	verifier := auth.NewJWTVerifier([]byte(secret))
//	subject, err := verifier.Verify(tokenString)
//
// Protect HTTP handlers:
//
//	handler = auth.HTTPAuthMiddleware(verifier)(handler)
//
// Mint a token (also available via the "print-bridge token" subcommand):
//
//	token, err := verifier.Generate("pos-backend", 30*24*time.Hour)
package auth
