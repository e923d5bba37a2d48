package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/esxi-mcp-server/internal/jsonrpc"
	"github.com/ggoodman/esxi-mcp-server/mcp"
	"github.com/ggoodman/esxi-mcp-server/mcpservice"
)

type noArgs struct{}

type pingArgs struct {
	Message string `json:"message,omitempty" jsonschema:"default=pong"`
}

type vmStats struct {
	Name string  `json:"name"`
	CPU  float64 `json:"cpu_usage_percent"`
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	reg := mcpservice.NewRegistry()
	listVMs := func(ctx context.Context, _ noArgs) ([]string, error) { return []string{"a", "b"}, nil }
	err := reg.Register(
		mcpservice.NewTool("listVMs", listVMs, mcpservice.WithToolDescription("List all virtual machines")),
		mcpservice.NewTool("list_vms", listVMs, mcpservice.WithToolDescription("List all virtual machines")),
		mcpservice.NewTool("ping", func(ctx context.Context, a pingArgs) (string, error) {
			if a.Message == "" {
				a.Message = "pong"
			}
			return "Ping response: " + a.Message, nil
		}),
		mcpservice.NewTool("boom", func(ctx context.Context, _ noArgs) (string, error) {
			return "", errors.New("Unauthorized: API key required.")
		}),
		mcpservice.NewTool("panic", func(ctx context.Context, _ noArgs) (string, error) {
			panic("kaboom")
		}),
		mcpservice.NewTool("count", func(ctx context.Context, _ noArgs) (int, error) { return 42, nil }),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	err = reg.RegisterResource(mcpservice.NewResource("vmStats", "vmstats://{vm_name}",
		func(ctx context.Context, name string) (*vmStats, error) {
			if name == "missing" {
				return nil, errors.New("VM missing not found")
			}
			return &vmStats{Name: name, CPU: 12.5}, nil
		},
		mcpservice.WithResourceDescription("Get CPU, memory, storage, network usage of a VM"),
		mcpservice.WithResourceMimeType("application/json"),
	))
	if err != nil {
		t.Fatalf("register resource: %v", err)
	}
	return NewEngine(reg, WithLogger(slog.New(slog.DiscardHandler)))
}

func request(t *testing.T, id int, method string, params any) *jsonrpc.Request {
	t.Helper()
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method, ID: jsonrpc.NewRequestID(id)}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Params = b
	}
	return req
}

func callTool(t *testing.T, e *Engine, name string, args string) *mcp.CallToolResult {
	t.Helper()
	res := e.HandleRequest(context.Background(), request(t, 1, "tools/call", map[string]any{
		"name":      name,
		"arguments": json.RawMessage(args),
	}))
	if res.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", res.Error)
	}
	var out mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(out.Content) != 1 || out.Content[0].Type != "text" {
		t.Fatalf("expected exactly one text item, got %+v", out.Content)
	}
	return &out
}

func TestEngine_Initialize(t *testing.T) {
	e := newTestEngine(t)
	res := e.HandleRequest(context.Background(), request(t, 1, "initialize", mcp.InitializeRequest{
		ProtocolVersion: "2025-03-26",
		ClientInfo:      mcp.ImplementationInfo{Name: "client", Version: "1"},
	}))
	if res.Error != nil {
		t.Fatalf("initialize error: %+v", res.Error)
	}
	var out mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ServerInfo.Name != "VMware-MCP-Server" || out.ServerInfo.Version != "0.0.1" {
		t.Fatalf("server info: %+v", out.ServerInfo)
	}
	if out.ProtocolVersion != "2025-03-26" {
		t.Fatalf("protocol version not echoed: %s", out.ProtocolVersion)
	}
	if out.Capabilities.Tools == nil || out.Capabilities.Resources == nil {
		t.Fatalf("capabilities: %+v", out.Capabilities)
	}

	res = e.HandleRequest(context.Background(), request(t, 2, "initialize", mcp.InitializeRequest{ProtocolVersion: "1999-01-01"}))
	_ = json.Unmarshal(res.Result, &out)
	if out.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("expected fallback to latest, got %s", out.ProtocolVersion)
	}
}

func TestEngine_InitializeServerInfoAndInstructions(t *testing.T) {
	e := NewEngine(mcpservice.NewRegistry(),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithServerInfo(mcp.ImplementationInfo{Name: DefaultServerName, Version: "1.2.3"}),
		WithInstructions("authenticate first"),
	)
	res := e.HandleRequest(context.Background(), request(t, 1, "initialize", nil))
	if res.Error != nil {
		t.Fatalf("initialize error: %+v", res.Error)
	}
	var out mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ServerInfo.Name != "VMware-MCP-Server" || out.ServerInfo.Version != "1.2.3" {
		t.Fatalf("server info: %+v", out.ServerInfo)
	}
	if out.Instructions != "authenticate first" {
		t.Fatalf("instructions: %q", out.Instructions)
	}
}

func TestEngine_ListCursorParams(t *testing.T) {
	e := newTestEngine(t)
	for _, method := range []string{"tools/list", "resources/list", "resources/templates/list"} {
		if res := e.HandleRequest(context.Background(), request(t, 1, method, map[string]any{"cursor": "next"})); res.Error != nil {
			t.Fatalf("%s with cursor: %+v", method, res.Error)
		}
		res := e.HandleRequest(context.Background(), request(t, 2, method, map[string]any{"cursor": 5}))
		if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
			t.Fatalf("%s with bad cursor: expected invalid params, got %+v", method, res.Error)
		}
	}
}

func TestEngine_EmptyTextIsSerialized(t *testing.T) {
	reg := mcpservice.NewRegistry()
	if err := reg.Register(mcpservice.NewTool("blank", func(ctx context.Context, _ noArgs) (string, error) { return "", nil })); err != nil {
		t.Fatalf("register: %v", err)
	}
	e := NewEngine(reg, WithLogger(slog.New(slog.DiscardHandler)))
	res := e.HandleRequest(context.Background(), request(t, 1, "tools/call", map[string]any{"name": "blank"}))
	if res.Error != nil {
		t.Fatalf("rpc error: %+v", res.Error)
	}
	if !strings.Contains(string(res.Result), `"text":""`) {
		t.Fatalf("text member missing from %s", res.Result)
	}
}

func TestEngine_ToolsListPreservesOrder(t *testing.T) {
	e := newTestEngine(t)
	res := e.HandleRequest(context.Background(), request(t, 1, "tools/list", nil))
	var out mcp.ListToolsResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"listVMs", "list_vms", "ping", "boom", "panic", "count"}
	if len(out.Tools) != len(want) {
		t.Fatalf("want %d tools got %d", len(want), len(out.Tools))
	}
	for i, name := range want {
		if out.Tools[i].Name != name {
			t.Fatalf("tool %d: want %s got %s", i, name, out.Tools[i].Name)
		}
	}
}

func TestEngine_CallToolFormatting(t *testing.T) {
	e := newTestEngine(t)

	out := callTool(t, e, "listVMs", `{}`)
	if out.Content[0].Text != "[\n  \"a\",\n  \"b\"\n]" {
		t.Fatalf("unexpected list rendering: %q", out.Content[0].Text)
	}
	alias := callTool(t, e, "list_vms", `{}`)
	if alias.Content[0].Text != out.Content[0].Text {
		t.Fatalf("alias mismatch: %q vs %q", alias.Content[0].Text, out.Content[0].Text)
	}

	if got := callTool(t, e, "ping", `{}`).Content[0].Text; got != "Ping response: pong" {
		t.Fatalf("ping default: %q", got)
	}
	if got := callTool(t, e, "ping", `{"message":"hi"}`).Content[0].Text; got != "Ping response: hi" {
		t.Fatalf("ping: %q", got)
	}
	if got := callTool(t, e, "count", `{}`).Content[0].Text; got != "42" {
		t.Fatalf("scalar rendering: %q", got)
	}
}

func TestEngine_ToolErrorBecomesErrorResult(t *testing.T) {
	e := newTestEngine(t)
	out := callTool(t, e, "boom", `{}`)
	if !out.IsError {
		t.Fatalf("expected isError")
	}
	if out.Content[0].Text != "Unauthorized: API key required." {
		t.Fatalf("unexpected text %q", out.Content[0].Text)
	}

	out = callTool(t, e, "ping", `{"unexpected":1}`)
	if !out.IsError || !strings.Contains(out.Content[0].Text, "unknown field") {
		t.Fatalf("expected argument error result, got %+v", out)
	}
}

func TestEngine_UnknownToolAndMethod(t *testing.T) {
	e := newTestEngine(t)
	res := e.HandleRequest(context.Background(), request(t, 1, "tools/call", map[string]any{"name": "nope"}))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams || res.Error.Message != "Unknown tool: nope" {
		t.Fatalf("unexpected response: %+v", res.Error)
	}

	res = e.HandleRequest(context.Background(), request(t, 2, "prompts/list", nil))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("unexpected response: %+v", res.Error)
	}
}

func TestEngine_Resources(t *testing.T) {
	e := newTestEngine(t)

	res := e.HandleRequest(context.Background(), request(t, 1, "resources/list", nil))
	var list mcp.ListResourcesResult
	if err := json.Unmarshal(res.Result, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Resources) != 1 || list.Resources[0].URI != "vmstats://{vm_name}" || list.Resources[0].Name != "vmStats" {
		t.Fatalf("unexpected listing: %+v", list.Resources)
	}

	res = e.HandleRequest(context.Background(), request(t, 2, "resources/templates/list", nil))
	var tpls mcp.ListResourceTemplatesResult
	if err := json.Unmarshal(res.Result, &tpls); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tpls.ResourceTemplates) != 1 || tpls.ResourceTemplates[0].URITemplate != "vmstats://{vm_name}" {
		t.Fatalf("unexpected templates: %+v", tpls.ResourceTemplates)
	}

	res = e.HandleRequest(context.Background(), request(t, 3, "resources/read", map[string]string{"uri": "vmstats://vm-42"}))
	if res.Error != nil {
		t.Fatalf("read: %+v", res.Error)
	}
	var read mcp.ReadResourceResult
	if err := json.Unmarshal(res.Result, &read); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := "{\n  \"name\": \"vm-42\",\n  \"cpu_usage_percent\": 12.5\n}"
	if len(read.Contents) != 1 || read.Contents[0].Text != want || read.Contents[0].MimeType != "application/json" {
		t.Fatalf("unexpected contents: %+v", read.Contents)
	}

	res = e.HandleRequest(context.Background(), request(t, 4, "resources/read", map[string]string{"uri": "hoststats://h1"}))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams || res.Error.Message != "Unknown resource: hoststats://h1" {
		t.Fatalf("unexpected response: %+v", res.Error)
	}

	res = e.HandleRequest(context.Background(), request(t, 5, "resources/read", map[string]string{"uri": "vmstats://missing"}))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInternalError || res.Error.Message != "VM missing not found" {
		t.Fatalf("unexpected response: %+v", res.Error)
	}
}

func TestFormatResult(t *testing.T) {
	type host struct {
		Name string `json:"name"`
	}
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"string verbatim", "VM 'web' powered on.", "VM 'web' powered on."},
		{"map", map[string]int{"a": 1}, "{\n  \"a\": 1\n}"},
		{"struct pointer", &host{Name: "esx<1>"}, "{\n  \"name\": \"esx<1>\"\n}"},
		{"empty slice", []string{}, "[]"},
		{"bool", true, "true"},
		{"float", 1.5, "1.5"},
		{"nil", nil, "null"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FormatResult(tc.in)
			if err != nil {
				t.Fatalf("format: %v", err)
			}
			if got != tc.want {
				t.Fatalf("want %q got %q", tc.want, got)
			}
		})
	}
}

// pipeConn is an in-memory Conn fed by the test.
type pipeConn struct {
	in  chan jsonrpc.Message
	out chan jsonrpc.Message
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan jsonrpc.Message, 16), out: make(chan jsonrpc.Message, 16)}
}

func (c *pipeConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	}
}

func (c *pipeConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.out <- msg:
		return nil
	}
}

func readResponse(t *testing.T, c *pipeConn) *jsonrpc.Response {
	t.Helper()
	select {
	case b := <-c.out:
		var res jsonrpc.Response
		if err := json.Unmarshal(b, &res); err != nil {
			t.Fatalf("decode response %s: %v", b, err)
		}
		return &res
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for response")
		return nil
	}
}

func TestServe_RoundTripAndEOF(t *testing.T) {
	e := newTestEngine(t)
	conn := newPipeConn()

	done := make(chan error, 1)
	go func() { done <- e.Serve(context.Background(), conn) }()

	conn.in <- jsonrpc.Message(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	conn.in <- jsonrpc.Message(`{"jsonrpc":"2.0","id":"abc","method":"ping"}`)
	res := readResponse(t, conn)
	if res.ID.String() != "abc" || res.Error != nil {
		t.Fatalf("unexpected ping response: %+v", res)
	}

	conn.in <- jsonrpc.Message(`{not json`)
	res = readResponse(t, conn)
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeParseError || !res.ID.IsNil() {
		t.Fatalf("expected parse error with null id, got %+v", res)
	}

	conn.in <- jsonrpc.Message(`{"jsonrpc":"1.0","id":1,"method":"ping"}`)
	res = readResponse(t, conn)
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", res)
	}

	conn.in <- jsonrpc.Message(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"panic"}}`)
	res = readResponse(t, conn)
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInternalError {
		t.Fatalf("expected internal error after panic, got %+v", res)
	}

	close(conn.in)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return on EOF")
	}
}

// blockingConn counts writes and lets the test release a slow tool after cancel.
type blockingConn struct {
	*pipeConn
	writes atomic.Int32
}

func (c *blockingConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	c.writes.Add(1)
	return c.pipeConn.Write(ctx, msg)
}

func TestServe_NoWritesAfterCancel(t *testing.T) {
	reg := mcpservice.NewRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	err := reg.Register(mcpservice.NewTool("slow", func(ctx context.Context, _ noArgs) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return "done", nil
	}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	e := NewEngine(reg, WithLogger(slog.New(slog.DiscardHandler)))
	conn := &blockingConn{pipeConn: newPipeConn()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, conn) }()

	conn.in <- jsonrpc.Message(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"slow"}}`)
	<-started
	cancel()
	close(release)

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
	if n := conn.writes.Load(); n != 0 {
		t.Fatalf("expected no writes after cancel, got %d", n)
	}
}

func TestServe_ConcurrentRequests(t *testing.T) {
	reg := mcpservice.NewRegistry()
	gate := make(chan struct{})
	err := reg.Register(
		mcpservice.NewTool("wait", func(ctx context.Context, _ noArgs) (string, error) {
			<-gate
			return "waited", nil
		}),
		mcpservice.NewTool("fast", func(ctx context.Context, _ noArgs) (string, error) { return "fast", nil }),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	e := NewEngine(reg, WithLogger(slog.New(slog.DiscardHandler)))
	conn := newPipeConn()
	go func() { _ = e.Serve(context.Background(), conn) }()
	t.Cleanup(func() { close(conn.in) })

	conn.in <- jsonrpc.Message(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"wait"}}`)
	conn.in <- jsonrpc.Message(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"fast"}}`)

	first := readResponse(t, conn)
	if first.ID.String() != "2" {
		t.Fatalf("fast request should not wait behind slow one, got id %s", first.ID.String())
	}
	close(gate)
	second := readResponse(t, conn)
	if second.ID.String() != "1" {
		t.Fatalf("unexpected id %s", second.ID.String())
	}
}
