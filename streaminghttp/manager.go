package streaminghttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/esxi-mcp-server/internal/engine"
	"github.com/ggoodman/esxi-mcp-server/internal/logctx"
)

var ErrManagerClosed = errors.New("session manager closed")

// Server runs the protocol loop against a connection until it ends.
// *engine.Engine satisfies it.
type Server interface {
	Serve(ctx context.Context, conn engine.Conn) error
}

var _ Server = (*engine.Engine)(nil)

// SessionManager owns the single process-wide Transport and the background
// goroutine running the protocol loop against it. The transport is created
// lazily by the first request that needs it.
//
// When the loop ends for any reason the transport is closed and forgotten,
// so the next request starts a fresh one.
type SessionManager struct {
	srv     Server
	cfg     *config
	log     *slog.Logger
	baseCtx context.Context

	mu      sync.Mutex
	current *Transport
	cancel  context.CancelFunc
	closed  bool

	started atomic.Int64
}

// NewSessionManager constructs a manager whose loops derive from ctx.
func NewSessionManager(ctx context.Context, srv Server, opts ...Option) *SessionManager {
	cfg := newConfig(opts)
	return &SessionManager{
		srv:     srv,
		cfg:     cfg,
		log:     cfg.logger,
		baseCtx: context.WithoutCancel(ctx),
	}
}

// Session returns the live transport, creating it and starting its loop if
// none exists. Only the check-and-create step holds the lock.
func (m *SessionManager) Session(ctx context.Context) (*Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.current != nil {
		return m.current, nil
	}

	t := newTransport(m.cfg)
	loopCtx, cancel := context.WithCancel(m.baseCtx)
	loopCtx = logctx.WithSessionData(loopCtx, &logctx.SessionData{SessionID: t.SessionID(), Transport: "streaminghttp"})

	m.current = t
	m.cancel = cancel
	m.started.Add(1)
	go m.run(loopCtx, cancel, t)

	m.log.InfoContext(ctx, "session.create.ok", slog.String("session_id", t.SessionID()))
	return t, nil
}

// Started reports how many protocol loops have been started.
func (m *SessionManager) Started() int {
	return int(m.started.Load())
}

// Close stops the live loop, closes its transport and refuses new sessions.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.cancel != nil {
		m.cancel()
	}
	if m.current != nil {
		m.current.Close()
	}
	m.current = nil
	m.cancel = nil
}

func (m *SessionManager) run(ctx context.Context, cancel context.CancelFunc, t *Transport) {
	defer cancel()

	err := m.serve(ctx, t)
	t.Close()

	switch {
	case err == nil:
		m.log.InfoContext(ctx, "session.loop.done")
	case errors.Is(err, context.Canceled):
		m.log.InfoContext(ctx, "session.loop.cancelled")
	default:
		m.log.ErrorContext(ctx, "session.loop.fail", slog.String("err", err.Error()))
	}

	m.mu.Lock()
	if m.current == t {
		m.current = nil
		m.cancel = nil
	}
	m.mu.Unlock()
}

func (m *SessionManager) serve(ctx context.Context, t *Transport) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("protocol loop panic: %v", p)
		}
	}()
	return m.srv.Serve(ctx, t)
}
