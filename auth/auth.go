package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
)

// ErrUnauthorized is returned when a privileged operation is attempted before
// a successful authenticate call, and when the transport boundary rejects a
// request credential.
var ErrUnauthorized = errors.New("Unauthorized: API key required.")

// ErrAuthenticationFailed is returned by Authenticate when the supplied key
// does not match the configured key.
var ErrAuthenticationFailed = errors.New("Authentication failed: invalid API key.")

// Authenticator validates a credential presented at the transport boundary.
// It returns ErrUnauthorized for credentials that must be rejected.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) error
}

var _ Authenticator = (*Gate)(nil)

// Gate is the process-wide API-key gate. It has two states: unauthenticated
// (initial) and authenticated (terminal). With no configured key every check
// passes and the gate never changes state.
type Gate struct {
	key           string
	authenticated atomic.Bool
	log           *slog.Logger
	observer      func(bool)
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger used for authentication events.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// WithObserver registers fn to be called with true when the gate transitions
// to the authenticated state. It lets a management client mirror the flag.
func WithObserver(fn func(authenticated bool)) Option {
	return func(g *Gate) { g.observer = fn }
}

// NewGate constructs a Gate for the configured key. An empty key disables
// the gate.
func NewGate(key string, opts ...Option) *Gate {
	g := &Gate{key: key, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// KeyRequired reports whether an API key is configured.
func (g *Gate) KeyRequired() bool { return g.key != "" }

// Authenticated reports whether the authenticate transition has happened.
func (g *Gate) Authenticated() bool { return g.authenticated.Load() }

// Authenticate compares key with the configured key. On a match the gate
// moves to the authenticated state for the remaining life of the process. A
// mismatch leaves the state unchanged and returns ErrAuthenticationFailed.
// With no configured key the call is a no-op that succeeds.
func (g *Gate) Authenticate(ctx context.Context, key string) error {
	if !g.KeyRequired() {
		g.log.InfoContext(ctx, "auth.authenticate.noop")
		return nil
	}
	if !g.matches(key) {
		g.log.WarnContext(ctx, "auth.authenticate.fail")
		return ErrAuthenticationFailed
	}
	if g.authenticated.CompareAndSwap(false, true) && g.observer != nil {
		g.observer(true)
	}
	g.log.InfoContext(ctx, "auth.authenticate.ok")
	return nil
}

// Require is the guard every privileged handler calls before touching the
// management client.
func (g *Gate) Require(ctx context.Context) error {
	if g.KeyRequired() && !g.authenticated.Load() {
		g.log.DebugContext(ctx, "auth.require.deny")
		return ErrUnauthorized
	}
	return nil
}

// CheckAuthentication implements Authenticator for the HTTP boundary. It does
// not change the gate state.
func (g *Gate) CheckAuthentication(ctx context.Context, tok string) error {
	if !g.KeyRequired() {
		return nil
	}
	if !g.matches(tok) {
		return ErrUnauthorized
	}
	return nil
}

func (g *Gate) matches(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(g.key)) == 1
}

const bearerPrefix = "Bearer "

// CredentialFromRequest extracts the API key presented on r. The
// Authorization header wins when present: "Bearer <token>" yields the trimmed
// token and any other non-empty value is used as-is. Otherwise the X-API-Key
// header is used.
func CredentialFromRequest(r *http.Request) string {
	if values, ok := r.Header["Authorization"]; ok {
		var v string
		if len(values) > 0 {
			v = strings.TrimSpace(values[0])
		}
		if strings.HasPrefix(v, bearerPrefix) {
			return strings.TrimSpace(v[len(bearerPrefix):])
		}
		return v
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
