package streaminghttp

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ggoodman/esxi-mcp-server/auth"
	"github.com/ggoodman/esxi-mcp-server/internal/logctx"
	"github.com/google/uuid"
)

var _ http.Handler = (*Handler)(nil)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-API-Key, MCP-Session-Id"
)

// Handler routes HTTP traffic for the message endpoint. OPTIONS answers the
// CORS preflight, GET and POST pass the API-key check and are handed to the
// live transport, and everything else is 404.
type Handler struct {
	sessions *SessionManager
	auth     auth.Authenticator
	log      *slog.Logger
}

// New constructs the router. authn may be nil to disable the boundary check.
func New(sessions *SessionManager, authn auth.Authenticator, opts ...Option) *Handler {
	cfg := newConfig(opts)
	return &Handler{
		sessions: sessions,
		auth:     authn,
		log:      cfg.logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)

	if r.URL.Path != messagePath {
		writeText(w, http.StatusNotFound, "Not Found")
		h.log.DebugContext(ctx, "http.route.miss")
		return
	}

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet, http.MethodPost:
		h.handleMessage(w, r)
	default:
		writeText(w, http.StatusNotFound, "Not Found")
	}
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if h.auth != nil {
		if err := h.auth.CheckAuthentication(ctx, auth.CredentialFromRequest(r)); err != nil {
			writeText(w, http.StatusUnauthorized, "Unauthorized")
			h.log.WarnContext(ctx, "auth.fail")
			return
		}
	}

	rt := &responseTracker{ResponseWriter: w}

	t, err := h.sessions.Session(ctx)
	if err != nil {
		h.fail(ctx, rt, err)
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: t.SessionID(), Transport: "streaminghttp"})
	if err := t.HandleRequest(rt, r.WithContext(ctx)); err != nil {
		h.fail(ctx, rt, err)
		return
	}
	h.log.DebugContext(ctx, "http.request.ok", slog.Duration("dur", time.Since(start)))
}

// fail reports a transport failure. A 500 is only written while the response
// is untouched; once bytes have gone out the error is logged and dropped.
func (h *Handler) fail(ctx context.Context, rt *responseTracker, err error) {
	if rt.Started() {
		h.log.ErrorContext(ctx, "http.request.fail_after_start", slog.String("err", err.Error()))
		return
	}
	h.log.ErrorContext(ctx, "http.request.fail", slog.String("err", err.Error()))
	writeText(rt, http.StatusInternalServerError, err.Error())
}

// responseTracker records whether a response has started.
type responseTracker struct {
	http.ResponseWriter
	started atomic.Bool
}

func (t *responseTracker) WriteHeader(code int) {
	t.started.Store(true)
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTracker) Write(p []byte) (int, error) {
	t.started.Store(true)
	return t.ResponseWriter.Write(p)
}

func (t *responseTracker) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		t.started.Store(true)
		f.Flush()
	}
}

// Started reports whether headers or body bytes have been written.
func (t *responseTracker) Started() bool { return t.started.Load() }

func (t *responseTracker) Unwrap() http.ResponseWriter { return t.ResponseWriter }
