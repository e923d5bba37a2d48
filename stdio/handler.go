package stdio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ggoodman/esxi-mcp-server/internal/engine"
	"github.com/ggoodman/esxi-mcp-server/internal/jsonrpc"
	"github.com/ggoodman/esxi-mcp-server/internal/logctx"
	"github.com/google/uuid"
)

const maxLineSize = 10 << 20

// Handler is a single-connection stdio transport that reads newline-delimited
// JSON-RPC messages from an io.Reader and writes one message per line to an
// io.Writer. By default, it uses os.Stdin and os.Stdout.
//
// The handler is transport-only; it delegates all protocol semantics to the
// engine.
type Handler struct {
	eng *engine.Engine
	r   io.Reader
	w   io.Writer
	l   *slog.Logger
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{
		eng: eng,
		r:   os.Stdin,
		w:   os.Stdout,
		l:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler. EOF returns nil.
func (h *Handler) Serve(ctx context.Context) error {
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: uuid.NewString(), Transport: "stdio"})

	conn := newLineConn(h.r, h.w)
	go conn.pump()

	h.l.InfoContext(ctx, "stdio.serve.start")
	err := h.eng.Serve(ctx, conn)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.l.ErrorContext(ctx, "stdio.serve.fail", slog.String("err", err.Error()))
		return err
	}
	h.l.InfoContext(ctx, "stdio.serve.done")
	return err
}

type readResult struct {
	line []byte
	err  error
}

// lineConn adapts a line-oriented reader/writer pair to engine.Conn. A
// dedicated goroutine owns the scanner so Read can honor cancellation.
type lineConn struct {
	sc    *bufio.Scanner
	lines chan readResult

	wmu sync.Mutex
	w   io.Writer
}

func newLineConn(r io.Reader, w io.Writer) *lineConn {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &lineConn{sc: sc, lines: make(chan readResult), w: w}
}

func (c *lineConn) pump() {
	for c.sc.Scan() {
		line := bytes.TrimSpace(c.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		c.lines <- readResult{line: append([]byte(nil), line...)}
	}
	err := c.sc.Err()
	if err == nil {
		err = io.EOF
	}
	c.lines <- readResult{err: err}
	close(c.lines)
}

func (c *lineConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-c.lines:
		if !ok {
			return nil, io.EOF
		}
		return res.line, res.err
	}
}

func (c *lineConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	buf := make([]byte, 0, len(msg)+1)
	buf = append(buf, msg...)
	buf = append(buf, '\n')
	_, err := c.w.Write(buf)
	return err
}
