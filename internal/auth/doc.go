// Package auth provides identity verification for coven-chat.
//
// # JWT Tokens
//
// Users authenticate with HS256 JWTs signed with the configured jwt_secret
// (at least MinSecretLength bytes). The user ID is read from the "sub"
// claim; tokens that carry "id" or "userId" instead are also accepted.
//
//	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	userID, err := verifier.Verify(token)
//
// Any verification failure maps to Unauthorized; IsUnauthorized groups the
// sentinel errors.
//
// # HTTP Middleware
//
// HTTPAuthMiddleware guards the REST facade. It requires
// "Authorization: Bearer <token>" and attaches an AuthContext:
//
//	authCtx := auth.FromContext(r.Context())
//	userID := authCtx.UserID
//
// # Live Connections
//
// Browsers cannot set headers on websocket upgrades, so
// CredentialFromRequest prefers the ?token= query parameter and falls back
// to the Authorization header. The "Bearer " prefix is optional.
package auth
