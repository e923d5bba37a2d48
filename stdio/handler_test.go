package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/esxi-mcp-server/internal/engine"
	"github.com/ggoodman/esxi-mcp-server/internal/jsonrpc"
	"github.com/ggoodman/esxi-mcp-server/mcp"
	"github.com/ggoodman/esxi-mcp-server/mcpservice"
)

// testHarness encapsulates pipes and collected output for stdio handler tests.
type testHarness struct {
	t       *testing.T
	stdinW  *io.PipeWriter
	stdoutR *bufio.Scanner
	outMu   sync.Mutex
	lines   []string
	done    chan error
}

type noArgs struct{}

type pingArgs struct {
	Message string `json:"message,omitempty" jsonschema:"default=pong"`
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	reg := mcpservice.NewRegistry()
	err := reg.Register(
		mcpservice.NewTool("ping", func(ctx context.Context, a pingArgs) (string, error) {
			if a.Message == "" {
				a.Message = "pong"
			}
			return "Ping response: " + a.Message, nil
		}),
		mcpservice.NewTool("listVMs", func(ctx context.Context, _ noArgs) ([]string, error) { return []string{"web"}, nil }),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return engine.NewEngine(reg, engine.WithLogger(slog.New(slog.DiscardHandler)))
}

func newHarness(t *testing.T, eng *engine.Engine) *testHarness {
	t.Helper()

	// wire stdio via io.Pipe
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	h := NewHandler(eng, WithIO(inR, outW), WithLogger(slog.New(slog.DiscardHandler)))

	ctx, cancel := context.WithCancel(context.Background())
	th := &testHarness{t: t, stdinW: inW, stdoutR: bufio.NewScanner(outR), done: make(chan error, 1)}

	go func() {
		th.done <- h.Serve(ctx)
	}()

	go func() {
		for th.stdoutR.Scan() {
			line := strings.TrimSpace(th.stdoutR.Text())
			th.outMu.Lock()
			th.lines = append(th.lines, line)
			th.outMu.Unlock()
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outW.Close()
	})
	return th
}

func (th *testHarness) sendRaw(line string) {
	th.t.Helper()
	if _, err := th.stdinW.Write([]byte(line + "\n")); err != nil {
		th.t.Fatalf("write stdin: %v", err)
	}
}

func (th *testHarness) send(id int, method string, params any) {
	th.t.Helper()
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method, ID: jsonrpc.NewRequestID(id)}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			th.t.Fatalf("marshal: %v", err)
		}
		req.Params = b
	}
	b, err := json.Marshal(req)
	if err != nil {
		th.t.Fatalf("marshal: %v", err)
	}
	th.sendRaw(string(b))
}

func (th *testHarness) nextLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		th.outMu.Lock()
		if len(th.lines) > 0 {
			s := th.lines[0]
			th.lines = th.lines[1:]
			th.outMu.Unlock()
			return s, nil
		}
		th.outMu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return "", fmt.Errorf("timeout waiting for output line")
}

func (th *testHarness) expectResponse() *jsonrpc.Response {
	th.t.Helper()
	line, err := th.nextLine(time.Second)
	if err != nil {
		th.t.Fatalf("expect response: %v", err)
	}
	var res jsonrpc.Response
	if err := json.Unmarshal([]byte(line), &res); err != nil {
		th.t.Fatalf("decode %q: %v", line, err)
	}
	return &res
}

func TestStdio_InitializeAndListTools(t *testing.T) {
	th := newHarness(t, newTestEngine(t))

	th.send(1, "initialize", mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "client", Version: "0.0.1"},
	})
	res := th.expectResponse()
	if res.Error != nil {
		t.Fatalf("initialize failed: %+v", res.Error)
	}
	var initRes mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &initRes); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	if initRes.ServerInfo.Name != "VMware-MCP-Server" || initRes.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("unexpected initialize result %+v", initRes)
	}

	th.sendRaw(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	th.send(2, "tools/list", nil)
	res = th.expectResponse()
	var list mcp.ListToolsResult
	if err := json.Unmarshal(res.Result, &list); err != nil {
		t.Fatalf("decode tools: %v", err)
	}
	if len(list.Tools) != 2 || list.Tools[0].Name != "ping" || list.Tools[1].Name != "listVMs" {
		t.Fatalf("unexpected tools %+v", list.Tools)
	}

	th.send(3, "tools/call", map[string]any{"name": "ping", "arguments": map[string]any{"message": "hi"}})
	res = th.expectResponse()
	var call mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &call); err != nil {
		t.Fatalf("decode call: %v", err)
	}
	if len(call.Content) != 1 || call.Content[0].Text != "Ping response: hi" {
		t.Fatalf("unexpected call result %+v", call)
	}
}

func TestStdio_MalformedLineGetsParseError(t *testing.T) {
	th := newHarness(t, newTestEngine(t))

	th.sendRaw(`{"jsonrpc":`)
	res := th.expectResponse()
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("expected parse error, got %+v", res)
	}
	if !res.ID.IsNil() {
		t.Fatalf("parse error must carry a null id")
	}

	// The loop survives and keeps serving.
	th.send(9, "ping", nil)
	res = th.expectResponse()
	if res.Error != nil || res.ID.String() != "9" {
		t.Fatalf("unexpected ping response %+v", res)
	}
}

func TestStdio_EOFReturnsNil(t *testing.T) {
	th := newHarness(t, newTestEngine(t))

	th.sendRaw("")
	_ = th.stdinW.Close()

	select {
	case err := <-th.done:
		if err != nil {
			t.Fatalf("expected nil on EOF, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return on EOF")
	}
}
