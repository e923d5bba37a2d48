package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/esxi-mcp-server/mcp"
	"github.com/invopop/jsonschema"
)

// ToolHandler is the type-erased form of a tool handler as stored in the
// Registry. It receives the raw "arguments" object of a tools/call request and
// returns a value the dispatcher renders as text.
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool pairs an MCP tool descriptor with its handler.
type Tool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// Name returns the descriptor name.
func (t Tool) Name() string { return t.Descriptor.Name }

// Call invokes the handler.
func (t Tool) Call(ctx context.Context, args json.RawMessage) (any, error) {
	return t.Handler(ctx, args)
}

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool // default false (strict)
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a Tool from a typed argument struct A and a typed result
// R. The input schema is reflected from A with invopop/jsonschema: fields
// without omitempty are required, and `jsonschema:"description=...,default=..."`
// tags carry documentation. At call time the raw arguments are checked for
// required members, decoded into A (rejecting unknown fields unless
// WithToolAllowAdditionalProperties is set) and passed to fn. Argument
// problems are returned as ordinary handler errors.
//
// Several tools may share one fn; each NewTool call yields an independent
// registry entry with its own descriptor.
func NewTool[A, R any](name string, fn func(ctx context.Context, args A) (R, error), opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	input := reflectToMCPInputSchema[A](cfg.allowAdditionalProperties)
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: input,
	}
	required := append([]string(nil), input.Required...)

	handler := func(ctx context.Context, raw json.RawMessage) (any, error) {
		a, err := decodeArguments[A](raw, required, cfg.allowAdditionalProperties)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a)
	}

	return Tool{Descriptor: desc, Handler: handler}
}

// decodeArguments verifies required members and decodes raw into A.
func decodeArguments[A any](raw json.RawMessage, required []string, allowAdditional bool) (A, error) {
	var a A
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}

	if len(required) > 0 {
		var members map[string]json.RawMessage
		if err := json.Unmarshal(raw, &members); err != nil {
			return a, fmt.Errorf("invalid arguments: %w", err)
		}
		for _, name := range required {
			if _, ok := members[name]; !ok {
				return a, fmt.Errorf("missing required argument %q", name)
			}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if !allowAdditional {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&a); err != nil {
		return a, fmt.Errorf("invalid arguments: %w", err)
	}
	return a, nil
}

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema. Unknown field policy is
// surfaced via the AdditionalProperties flag on the returned schema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	props := make(map[string]mcp.SchemaProperty)
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{Type: "object", Properties: props, AdditionalProperties: allowAdditional}
	}

	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toMCPProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// toMCPProperty recursively maps a jsonschema.Schema to the simplified MCP SchemaProperty.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
		Default:     s.Default,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toMCPProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}
