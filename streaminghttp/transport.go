package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/esxi-mcp-server/internal/engine"
	"github.com/ggoodman/esxi-mcp-server/internal/jsonrpc"
	"github.com/ggoodman/esxi-mcp-server/internal/logctx"
	"github.com/ggoodman/esxi-mcp-server/mcp"
	"github.com/google/uuid"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrFlusherMissing  = errors.New("response writer does not support flushing")
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
	responseMediaTypes    = []contenttype.MediaType{eventStreamMediaType, jsonMediaType}
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
)

var _ engine.Conn = (*Transport)(nil)

// Transport is the duplex channel between HTTP requests and the protocol
// loop. POSTed messages are queued for the loop; responses written by the
// loop are routed back to the POST that carried the matching request id, and
// anything else goes to the standalone GET stream.
type Transport struct {
	id             string
	log            *slog.Logger
	requestTimeout time.Duration

	inbound  chan jsonrpc.Message
	outbound chan jsonrpc.Message

	mu         sync.Mutex
	pending    map[string]chan jsonrpc.Message
	streamOpen bool

	done      chan struct{}
	closeOnce sync.Once
}

func newTransport(cfg *config) *Transport {
	return &Transport{
		id:             uuid.NewString(),
		log:            cfg.logger,
		requestTimeout: cfg.requestTimeout,
		inbound:        make(chan jsonrpc.Message, queueSize),
		outbound:       make(chan jsonrpc.Message, queueSize),
		pending:        make(map[string]chan jsonrpc.Message),
		done:           make(chan struct{}),
	}
}

// SessionID returns the identifier advertised in the Mcp-Session-Id header.
func (t *Transport) SessionID() string { return t.id }

// Done is closed once the transport is closed.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Close releases every waiter. It is safe to call more than once.
func (t *Transport) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}

// Read returns the next inbound message, or io.EOF once the transport is closed.
func (t *Transport) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, io.EOF
	case msg := <-t.inbound:
		return msg, nil
	}
}

// Write delivers an outbound message. Responses go to the waiting POST;
// everything else is offered to the standalone stream and dropped when no
// reader keeps up. Nothing is delivered once ctx is done.
func (t *Transport) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var head struct {
		Method string             `json:"method"`
		ID     *jsonrpc.RequestID `json:"id"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return err
	}

	if head.Method == "" && !head.ID.IsNil() {
		key := head.ID.Key()
		t.mu.Lock()
		ch, ok := t.pending[key]
		delete(t.pending, key)
		t.mu.Unlock()
		if !ok {
			t.log.WarnContext(ctx, "transport.response.orphan", slog.String("id", head.ID.String()))
			return nil
		}
		ch <- msg
		return nil
	}

	select {
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	case t.outbound <- msg:
		return nil
	default:
		t.log.WarnContext(ctx, "transport.stream.drop")
		return nil
	}
}

// HandleRequest serves one HTTP exchange against the transport. Failures that
// leave the response untouched are returned to the caller, which decides how
// to report them.
func (t *Transport) HandleRequest(w http.ResponseWriter, r *http.Request) error {
	if sid := r.Header.Get(mcpSessionIDHeader); sid != "" && sid != t.id {
		writeJSONError(w, http.StatusNotFound, "session not found")
		t.log.InfoContext(r.Context(), "session.load.miss")
		return nil
	}

	switch r.Method {
	case http.MethodPost:
		return t.handlePost(w, r)
	case http.MethodGet:
		return t.handleGet(w, r)
	}
	w.Header().Set("Allow", "GET, POST, OPTIONS")
	writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	return nil
}

func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) error {
	start := time.Now()
	ctx := r.Context()
	t.log.DebugContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		t.log.WarnContext(ctx, "content_type.unsupported")
		return nil
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		t.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return nil
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are not supported")
		t.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return nil
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		t.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return nil
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	req := msg.AsRequest()
	if req == nil || req.ID.IsNil() {
		// Notifications and client responses are fire-and-forget.
		if err := t.enqueue(ctx, jsonrpc.Message(raw)); err != nil {
			return err
		}
		w.WriteHeader(http.StatusAccepted)
		t.log.InfoContext(ctx, "http.post.accepted", slog.Duration("dur", time.Since(start)))
		return nil
	}

	key := req.ID.Key()
	ch := make(chan jsonrpc.Message, 1)
	t.mu.Lock()
	if _, dup := t.pending[key]; dup {
		t.mu.Unlock()
		writeJSONError(w, http.StatusConflict, "duplicate request id")
		t.log.WarnContext(ctx, "jsonrpc.request.duplicate")
		return nil
	}
	t.pending[key] = ch
	t.mu.Unlock()
	defer t.forget(key)

	if err := t.enqueue(ctx, jsonrpc.Message(raw)); err != nil {
		return err
	}

	timer := time.NewTimer(t.requestTimeout)
	defer timer.Stop()

	var res jsonrpc.Message
	select {
	case res = <-ch:
	case <-timer.C:
		writeJSONError(w, http.StatusGatewayTimeout, "request timed out")
		t.log.WarnContext(ctx, "http.post.timeout", slog.Duration("dur", time.Since(start)))
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		t.log.InfoContext(ctx, "http.post.client_gone", slog.Duration("dur", time.Since(start)))
		return nil
	}

	w.Header().Set(mcpSessionIDHeader, t.id)
	if req.Method == string(mcp.InitializeMethod) {
		var init struct {
			Result mcp.InitializeResult `json:"result"`
		}
		if err := json.Unmarshal(res, &init); err == nil && init.Result.ProtocolVersion != "" {
			w.Header().Set(mcpProtocolVersionHeader, init.Result.ProtocolVersion)
		}
	}

	if !prefersEventStream(r) {
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(res); err != nil {
			return err
		}
		t.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
		return nil
	}

	f, ok := w.(http.Flusher)
	if !ok {
		return ErrFlusherMissing
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: r.Context()}
	setEventStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := writeSSEEvent(wf, "", res); err != nil {
		return err
	}
	t.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
	return nil
}

// handleGet opens the standalone stream that carries server-originated
// messages until the client disconnects or the transport closes.
func (t *Transport) handleGet(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "accept must allow text/event-stream")
		t.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return nil
	}

	f, ok := w.(http.Flusher)
	if !ok {
		return ErrFlusherMissing
	}

	t.mu.Lock()
	if t.streamOpen {
		t.mu.Unlock()
		writeJSONError(w, http.StatusConflict, "stream already open")
		t.log.WarnContext(ctx, "sse.stream.conflict")
		return nil
	}
	t.streamOpen = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.streamOpen = false
		t.mu.Unlock()
	}()

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	w.Header().Set(mcpSessionIDHeader, t.id)
	setEventStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	t.log.InfoContext(ctx, "sse.stream.start")
	for {
		select {
		case <-ctx.Done():
			t.log.InfoContext(ctx, "sse.stream.done")
			return nil
		case <-t.done:
			t.log.InfoContext(ctx, "sse.stream.closed")
			return nil
		case msg := <-t.outbound:
			if err := writeSSEEvent(wf, "", msg); err != nil {
				return err
			}
		}
	}
}

func (t *Transport) enqueue(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	case t.inbound <- msg:
		return nil
	}
}

func (t *Transport) forget(key string) {
	t.mu.Lock()
	delete(t.pending, key)
	t.mu.Unlock()
}

// prefersEventStream reports whether the response to a POST should be framed
// as an event stream. Clients that send no Accept header get plain JSON.
func prefersEventStream(r *http.Request) bool {
	if r.Header.Get("Accept") == "" {
		return false
	}
	mt, _, err := contenttype.GetAcceptableMediaType(r, responseMediaTypes)
	return err == nil && mt.Matches(eventStreamMediaType)
}
