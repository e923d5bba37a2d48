package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/esxi-mcp-server/internal/jsonrpc"
	"github.com/ggoodman/esxi-mcp-server/internal/logctx"
	"github.com/ggoodman/esxi-mcp-server/mcp"
	"github.com/ggoodman/esxi-mcp-server/mcpservice"
)

const (
	DefaultServerName    = "VMware-MCP-Server"
	DefaultServerVersion = "0.0.1"
)

var ErrInternal = errors.New("internal error")

// Engine is the protocol dispatcher. It maps decoded JSON-RPC requests onto
// the tool and resource registry and renders handler results into protocol
// results. It holds no per-connection state, so a single Engine can back any
// number of transports concurrently.
type Engine struct {
	reg          *mcpservice.Registry
	log          *slog.Logger
	info         mcp.ImplementationInfo
	instructions string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithServerInfo overrides the implementation info reported by initialize.
func WithServerInfo(info mcp.ImplementationInfo) EngineOption {
	return func(e *Engine) {
		if info.Name != "" {
			e.info = info
		}
	}
}

// WithInstructions sets the optional instructions string returned by initialize.
func WithInstructions(s string) EngineOption {
	return func(e *Engine) { e.instructions = s }
}

func NewEngine(reg *mcpservice.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		reg:  reg,
		log:  slog.Default(),
		info: mcp.ImplementationInfo{Name: DefaultServerName, Version: DefaultServerVersion},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// HandleRequest dispatches a single request and always produces a response.
// Protocol-level problems become JSON-RPC error responses; tool handler
// failures become tool results flagged with isError.
func (e *Engine) HandleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   "request",
	})

	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return e.handleInitialize(ctx, req)
	case mcp.PingMethod:
		return e.result(ctx, req, &mcp.EmptyResult{})
	case mcp.ToolsListMethod:
		return e.handleToolsList(ctx, req)
	case mcp.ToolsCallMethod:
		return e.handleToolCall(ctx, req)
	case mcp.ResourcesListMethod:
		return e.handleResourcesList(ctx, req)
	case mcp.ResourcesTemplatesListMethod:
		return e.handleResourcesTemplatesList(ctx, req)
	case mcp.ResourcesReadMethod:
		return e.handleResourcesRead(ctx, req)
	}

	e.log.InfoContext(ctx, "engine.handle_request.unsupported", slog.String("method", req.Method))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
}

// HandleNotification accepts client notifications. None of them carry state
// this server tracks, so they are logged and dropped.
func (e *Engine) HandleNotification(ctx context.Context, note *jsonrpc.Request) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: note.Method, Type: "notification"})
	switch mcp.Method(note.Method) {
	case mcp.InitializedNotificationMethod:
		e.log.InfoContext(ctx, "engine.session.initialized")
	case mcp.CancelledNotificationMethod:
		var params mcp.CancelledNotification
		if err := json.Unmarshal(note.Params, &params); err != nil {
			e.log.DebugContext(ctx, "engine.notification.invalid", slog.String("err", err.Error()))
			return
		}
		e.log.DebugContext(ctx, "engine.notification.cancelled",
			slog.String("request_id", fmt.Sprint(params.RequestID)),
			slog.String("reason", params.Reason),
		)
	default:
		e.log.DebugContext(ctx, "engine.notification.ignored")
	}
}

func (e *Engine) handleInitialize(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	var params mcp.InitializeRequest
	if err := decodeParams(req, &params); err != nil {
		return e.invalidParams(ctx, req, err)
	}

	version := mcp.LatestProtocolVersion
	if mcp.IsSupportedProtocolVersion(params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	res := &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities: mcp.ServerCapabilities{
			Tools:     &mcp.ToolsCapabilityInfo{},
			Resources: &mcp.ResourcesCapabilityInfo{},
		},
		ServerInfo:   e.info,
		Instructions: e.instructions,
	}

	e.log.InfoContext(ctx, "engine.initialize.ok",
		slog.String("client", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.String("protocol_version", version),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return e.result(ctx, req, res)
}

// decodeParams unmarshals optional request params into v. Absent or null
// params leave v zeroed.
func decodeParams(req *jsonrpc.Request, v any) error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	return json.Unmarshal(req.Params, v)
}

func (e *Engine) invalidParams(ctx context.Context, req *jsonrpc.Request, err error) *jsonrpc.Response {
	e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
}

// The catalog is static and small, so every list fits one page and the
// cursor is only validated.
func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ListToolsRequest
	if err := decodeParams(req, &params); err != nil {
		return e.invalidParams(ctx, req, err)
	}
	tools := e.reg.Tools()
	e.log.DebugContext(ctx, "engine.handle_request.ok", slog.Int("tool_count", len(tools)))
	return e.result(ctx, req, &mcp.ListToolsResult{Tools: tools})
}

func (e *Engine) handleToolCall(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return e.invalidParams(ctx, req, err)
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	tool, ok := e.reg.Lookup(params.Name)
	if !ok {
		e.log.InfoContext(ctx, "engine.tool.unknown")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("Unknown tool: %s", params.Name), nil)
	}

	out, err := tool.Call(ctx, params.Arguments)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.tool.fail",
			slog.String("err", err.Error()),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		)
		return e.result(ctx, req, &mcp.CallToolResult{
			Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: err.Error()}},
			IsError: true,
		})
	}

	text, err := FormatResult(out)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.tool.format_fail", slog.String("err", err.Error()))
		return e.result(ctx, req, &mcp.CallToolResult{
			Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: err.Error()}},
			IsError: true,
		})
	}

	e.log.InfoContext(ctx, "engine.tool.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return e.result(ctx, req, &mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: text}},
	})
}

func (e *Engine) handleResourcesList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ListResourcesRequest
	if err := decodeParams(req, &params); err != nil {
		return e.invalidParams(ctx, req, err)
	}
	return e.result(ctx, req, &mcp.ListResourcesResult{Resources: e.reg.Resources()})
}

func (e *Engine) handleResourcesTemplatesList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ListResourceTemplatesRequest
	if err := decodeParams(req, &params); err != nil {
		return e.invalidParams(ctx, req, err)
	}
	return e.result(ctx, req, &mcp.ListResourceTemplatesResult{ResourceTemplates: e.reg.ResourceTemplates()})
}

func (e *Engine) handleResourcesRead(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()

	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return e.invalidParams(ctx, req, err)
	}

	res, param, ok := e.reg.MatchResource(params.URI)
	if !ok {
		e.log.InfoContext(ctx, "engine.resource.unknown", slog.String("uri", params.URI))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("Unknown resource: %s", params.URI), nil)
	}

	out, err := res.Handler(ctx, param)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.resource.fail",
			slog.String("uri", params.URI),
			slog.String("err", err.Error()),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}

	text, err := marshalIndent(out)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.resource.format_fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}

	e.log.InfoContext(ctx, "engine.resource.ok", slog.String("uri", params.URI), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return e.result(ctx, req, &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{{
			URI:      params.URI,
			MimeType: res.Template.MimeType,
			Text:     text,
		}},
	})
}

func (e *Engine) result(ctx context.Context, req *jsonrpc.Request, v any) *jsonrpc.Response {
	res, err := jsonrpc.NewResultResponse(req.ID, v)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, ErrInternal.Error(), nil)
	}
	return res
}
