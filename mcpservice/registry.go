package mcpservice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ggoodman/esxi-mcp-server/mcp"
)

var (
	// ErrDuplicateTool is returned when a tool name is registered twice.
	ErrDuplicateTool = errors.New("duplicate tool name")
	// ErrDuplicateResource is returned when a resource name or template is registered twice.
	ErrDuplicateResource = errors.New("duplicate resource")
	// ErrInvalidTool is returned for tools without a name or handler.
	ErrInvalidTool = errors.New("invalid tool")
	// ErrInvalidTemplate is returned for resource templates that do not end in a single placeholder.
	ErrInvalidTemplate = errors.New("invalid resource uri template")
)

// Registry holds the tool and resource catalog. It is populated once during
// startup and only read afterwards; listings preserve registration order.
type Registry struct {
	mu        sync.RWMutex
	tools     []Tool
	byName    map[string]int
	resources []Resource
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds tools in order. A duplicate or malformed entry stops
// registration and returns an error; callers treat that as a fatal
// configuration error.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		name := t.Descriptor.Name
		if name == "" || t.Handler == nil {
			return fmt.Errorf("%w: %q", ErrInvalidTool, name)
		}
		if _, exists := r.byName[name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		r.byName[name] = len(r.tools)
		r.tools = append(r.tools, t)
	}
	return nil
}

// RegisterResource adds templated resources in order.
func (r *Registry) RegisterResource(resources ...Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range resources {
		if err := res.validate(); err != nil {
			return err
		}
		for _, existing := range r.resources {
			if existing.Name() == res.Name() || existing.Template.URITemplate == res.Template.URITemplate {
				return fmt.Errorf("%w: %s", ErrDuplicateResource, res.Name())
			}
		}
		r.resources = append(r.resources, res)
	}
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// Tools returns every tool descriptor in registration order.
func (r *Registry) Tools() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.Descriptor
	}
	return out
}

// Resources returns every resource descriptor in registration order.
func (r *Registry) Resources() []mcp.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Resource, len(r.resources))
	for i, res := range r.resources {
		out[i] = res.Descriptor()
	}
	return out
}

// ResourceTemplates returns every resource template in registration order.
func (r *Registry) ResourceTemplates() []mcp.ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.ResourceTemplate, len(r.resources))
	for i, res := range r.resources {
		out[i] = res.Template
	}
	return out
}

// MatchResource resolves uri against the registered templates. The first
// resource (in registration order) whose literal prefix starts uri wins.
func (r *Registry) MatchResource(uri string) (Resource, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, res := range r.resources {
		if param, ok := res.Match(uri); ok {
			return res, param, true
		}
	}
	return Resource{}, "", false
}
