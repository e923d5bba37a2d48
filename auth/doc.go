// Package auth implements the single shared API-key gate that protects
// privileged tools and the streaming HTTP endpoint.
//
// A Gate is created from the configured key. Two independent checks consult
// it:
//
//   - The transport boundary calls CheckAuthentication with the credential
//     returned by CredentialFromRequest. A mismatch maps to HTTP 401 before
//     any protocol processing happens.
//   - Privileged tool handlers call Require. It fails with ErrUnauthorized
//     until a client has called the authenticate tool, which routes to
//     Authenticate.
//
// Once Authenticate succeeds the gate stays authenticated for the life of
// the process; there is no logout or expiry.
//
// Example:
//
//	gate := auth.NewGate(cfg.APIKey, auth.WithLogger(log))
//	if err := gate.Require(ctx); err != nil {
//	    return nil, err // "Unauthorized: API key required."
//	}
//
// With an empty key every check passes and Authenticate is a no-op.
package auth
