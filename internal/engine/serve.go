package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/ggoodman/esxi-mcp-server/internal/jsonrpc"
)

// Conn is a bidirectional message channel between the engine and one client.
// Read blocks until a message arrives and returns io.EOF once the peer is
// gone. Write delivers a message towards the client.
type Conn interface {
	Read(ctx context.Context) (jsonrpc.Message, error)
	Write(ctx context.Context, msg jsonrpc.Message) error
}

// Serve runs the protocol loop for conn until the connection is exhausted or
// ctx is cancelled. Each request is handled on its own goroutine so a slow
// tool does not block unrelated requests. Serve waits for in-flight handlers
// before returning and never writes after ctx is done.
//
// A clean end of input returns nil; cancellation returns ctx.Err().
func (e *Engine) Serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			code, text := jsonrpc.ErrorCodeInvalidRequest, "Invalid Request"
			if !json.Valid(raw) {
				code, text = jsonrpc.ErrorCodeParseError, "Parse error"
			}
			e.log.InfoContext(ctx, "engine.serve.invalid", slog.String("err", err.Error()))
			e.write(ctx, conn, jsonrpc.NewErrorResponse(nil, code, text, nil))
			continue
		}

		switch msg.Type() {
		case "notification":
			e.HandleNotification(ctx, msg.AsRequest())
		case "response":
			// The server never issues requests to the client.
			e.log.DebugContext(ctx, "engine.serve.unexpected_response", slog.String("id", msg.ID.String()))
		default:
			req := msg.AsRequest()
			wg.Add(1)
			go func() {
				defer wg.Done()
				res := e.handleSafely(ctx, req)
				if ctx.Err() != nil {
					return
				}
				e.write(ctx, conn, res)
			}()
		}
	}
}

// handleSafely runs HandleRequest, converting a handler panic into an
// internal error response.
func (e *Engine) handleSafely(ctx context.Context, req *jsonrpc.Request) (res *jsonrpc.Response) {
	defer func() {
		if p := recover(); p != nil {
			e.log.ErrorContext(ctx, "engine.handle_request.panic",
				slog.String("method", req.Method),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, ErrInternal.Error(), nil)
		}
	}()
	return e.HandleRequest(ctx, req)
}

func (e *Engine) write(ctx context.Context, conn Conn, res *jsonrpc.Response) {
	if ctx.Err() != nil {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.serve.encode_fail", slog.String("err", err.Error()))
		return
	}
	if err := conn.Write(ctx, b); err != nil {
		e.log.ErrorContext(ctx, "engine.serve.write_fail", slog.String("err", err.Error()))
	}
}
