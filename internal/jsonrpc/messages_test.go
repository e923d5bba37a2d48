package jsonrpc

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAnyMessageClassification(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, "request"},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, "notification"},
		{"result", `{"jsonrpc":"2.0","id":"a","result":{}}`, "response"},
		{"error", `{"jsonrpc":"2.0","id":"a","error":{"code":-32601,"message":"nope"}}`, "response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m AnyMessage
			if err := json.Unmarshal([]byte(tc.in), &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := m.Type(); got != tc.want {
				t.Fatalf("type: want %s got %s", tc.want, got)
			}
		})
	}
}

func TestAnyMessageRejectsMalformed(t *testing.T) {
	bad := []string{
		`{"jsonrpc":"1.0","id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":1,"method":"ping","result":{}}`,
		`{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`,
		`{"jsonrpc":"2.0","id":1}`,
		`not json`,
	}
	for _, in := range bad {
		var m AnyMessage
		if err := json.Unmarshal([]byte(in), &m); err == nil {
			t.Fatalf("expected error for %s", in)
		}
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	for _, in := range []string{`7`, `"abc"`, `1.5`} {
		var id RequestID
		if err := json.Unmarshal([]byte(in), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		out, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(out) != in {
			t.Fatalf("round trip: want %s got %s", in, out)
		}
	}

	if NewRequestID(1).Key() == NewRequestID("1").Key() {
		t.Fatalf("numeric and string ids must not collide")
	}
}

func TestErrorResponseWithNilIDEncodesNull(t *testing.T) {
	b, err := json.Marshal(NewErrorResponse(nil, ErrorCodeParseError, "Parse error", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"id":null`) {
		t.Fatalf("expected null id, got %s", b)
	}
}
