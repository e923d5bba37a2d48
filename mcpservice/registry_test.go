package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type vmArgs struct {
	Name      string `json:"name" jsonschema:"description=Name of the virtual machine"`
	CPU       int    `json:"cpu"`
	Datastore string `json:"datastore,omitempty"`
}

type pingArgs struct {
	Message string `json:"message,omitempty" jsonschema:"description=Message to echo back,default=pong"`
}

type noArgs struct{}

func listNames(ctx context.Context, _ noArgs) ([]string, error) {
	return []string{"a", "b"}, nil
}

func TestRegistry_PreservesOrderAndRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(
		NewTool("listVMs", listNames),
		NewTool("list_vms", listNames),
		NewTool("ping", func(ctx context.Context, a pingArgs) (string, error) { return a.Message, nil }),
	); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := r.Register(NewTool("ping", func(ctx context.Context, a pingArgs) (string, error) { return "", nil }))
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}

	got := r.Tools()
	want := []string{"listVMs", "list_vms", "ping"}
	if len(got) != len(want) {
		t.Fatalf("want %d tools, got %d", len(want), len(got))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("tool %d: want %s got %s", i, name, got[i].Name)
		}
	}
}

func TestRegistry_AliasesAreIndependentEntries(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewTool("listVMs", listNames), NewTool("list_vms", listNames)); err != nil {
		t.Fatalf("register: %v", err)
	}
	a, ok := r.Lookup("listVMs")
	if !ok {
		t.Fatalf("listVMs missing")
	}
	b, ok := r.Lookup("list_vms")
	if !ok {
		t.Fatalf("list_vms missing")
	}
	ra, err := a.Call(context.Background(), nil)
	if err != nil {
		t.Fatalf("call listVMs: %v", err)
	}
	rb, err := b.Call(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("call list_vms: %v", err)
	}
	ja, _ := json.Marshal(ra)
	jb, _ := json.Marshal(rb)
	if string(ja) != string(jb) {
		t.Fatalf("aliases disagree: %s vs %s", ja, jb)
	}
	if _, ok := r.Lookup("listvms"); ok {
		t.Fatalf("lookup must be exact")
	}
}

func TestNewTool_SchemaReflection(t *testing.T) {
	tool := NewTool("createVM", func(ctx context.Context, a vmArgs) (string, error) { return "", nil },
		WithToolDescription("Create a new virtual machine"))

	s := tool.Descriptor.InputSchema
	if s.Type != "object" {
		t.Fatalf("schema type: %s", s.Type)
	}
	if len(s.Required) != 2 || s.Required[0] != "name" || s.Required[1] != "cpu" {
		t.Fatalf("unexpected required: %v", s.Required)
	}
	if s.Properties["cpu"].Type != "integer" {
		t.Fatalf("cpu type: %+v", s.Properties["cpu"])
	}
	if s.Properties["name"].Description != "Name of the virtual machine" {
		t.Fatalf("name description: %+v", s.Properties["name"])
	}
	if _, ok := s.Properties["datastore"]; !ok {
		t.Fatalf("datastore property missing")
	}

	ping := NewTool("ping", func(ctx context.Context, a pingArgs) (string, error) { return a.Message, nil })
	if ping.Descriptor.InputSchema.Properties["message"].Default != "pong" {
		t.Fatalf("default not reflected: %+v", ping.Descriptor.InputSchema.Properties["message"])
	}
	if len(ping.Descriptor.InputSchema.Required) != 0 {
		t.Fatalf("ping should have no required args")
	}
}

func TestNewTool_ArgumentErrorsComeFromHandler(t *testing.T) {
	called := false
	tool := NewTool("createVM", func(ctx context.Context, a vmArgs) (string, error) {
		called = true
		return a.Name, nil
	})

	cases := []struct {
		name string
		args string
		want string
	}{
		{"missing required", `{"name":"x"}`, `missing required argument "cpu"`},
		{"unknown field", `{"name":"x","cpu":1,"bogus":true}`, "unknown field"},
		{"wrong type", `{"name":"x","cpu":"two"}`, "invalid arguments"},
		{"empty", ``, `missing required argument "name"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tool.Call(context.Background(), json.RawMessage(tc.args))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want error containing %q, got %v", tc.want, err)
			}
		})
	}
	if called {
		t.Fatalf("handler must not run on argument errors")
	}

	out, err := tool.Call(context.Background(), json.RawMessage(`{"name":"web","cpu":2}`))
	if err != nil || out != "web" {
		t.Fatalf("unexpected result %v err %v", out, err)
	}
}

func TestRegistry_MatchResource(t *testing.T) {
	r := NewRegistry()
	var seen string
	stats := NewResource("vmStats", "vmstats://{vm_name}", func(ctx context.Context, name string) (map[string]any, error) {
		seen = name
		return map[string]any{"vm": name}, nil
	}, WithResourceMimeType("application/json"))
	if err := r.RegisterResource(stats); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, param, ok := r.MatchResource("vmstats://vm-42")
	if !ok {
		t.Fatalf("expected match")
	}
	if param != "vm-42" {
		t.Fatalf("param: want vm-42 got %q", param)
	}
	if _, err := res.Handler(context.Background(), param); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if seen != "vm-42" {
		t.Fatalf("handler saw %q", seen)
	}

	if _, _, ok := r.MatchResource("hoststats://h1"); ok {
		t.Fatalf("unexpected match")
	}

	listed := r.Resources()
	if len(listed) != 1 || listed[0].URI != "vmstats://{vm_name}" || listed[0].MimeType != "application/json" {
		t.Fatalf("unexpected listing: %+v", listed)
	}
}

func TestRegistry_RejectsBadTemplates(t *testing.T) {
	r := NewRegistry()
	h := func(ctx context.Context, s string) (string, error) { return s, nil }
	for _, tpl := range []string{"vmstats://", "vmstats://{a}/{b}", "{vm}", "vmstats://{vm}/stats"} {
		if err := r.RegisterResource(NewResource("x", tpl, h)); !errors.Is(err, ErrInvalidTemplate) {
			t.Fatalf("template %q: expected ErrInvalidTemplate, got %v", tpl, err)
		}
	}
	if err := r.RegisterResource(NewResource("a", "a://{x}", h)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.RegisterResource(NewResource("a", "b://{x}", h)); !errors.Is(err, ErrDuplicateResource) {
		t.Fatalf("expected ErrDuplicateResource, got %v", err)
	}
}
