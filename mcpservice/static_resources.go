package mcpservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/ggoodman/esxi-mcp-server/mcp"
)

// ResourceHandler resolves a templated resource for the single placeholder
// value extracted from the requested URI.
type ResourceHandler func(ctx context.Context, param string) (any, error)

// Resource is a URI-templated, read-only data endpoint. The template carries
// exactly one trailing placeholder, e.g. "vmstats://{vm_name}"; the text
// before the placeholder is the literal prefix used for matching.
type Resource struct {
	Template mcp.ResourceTemplate
	Handler  ResourceHandler
}

// ResourceOption configures NewResource behavior.
type ResourceOption func(*mcp.ResourceTemplate)

// WithResourceDescription sets the description used in listings.
func WithResourceDescription(desc string) ResourceOption {
	return func(t *mcp.ResourceTemplate) { t.Description = desc }
}

// WithResourceMimeType sets the mime type used in listings and reads.
func WithResourceMimeType(mt string) ResourceOption {
	return func(t *mcp.ResourceTemplate) { t.MimeType = mt }
}

// NewResource constructs a templated Resource with a typed result.
func NewResource[R any](name, uriTemplate string, fn func(ctx context.Context, param string) (R, error), opts ...ResourceOption) Resource {
	tpl := mcp.ResourceTemplate{Name: name, URITemplate: uriTemplate}
	for _, opt := range opts {
		opt(&tpl)
	}
	return Resource{
		Template: tpl,
		Handler: func(ctx context.Context, param string) (any, error) {
			return fn(ctx, param)
		},
	}
}

// Name returns the resource name.
func (r Resource) Name() string { return r.Template.Name }

// Prefix returns the literal portion of the template before its placeholder.
func (r Resource) Prefix() string {
	prefix, _, _ := strings.Cut(r.Template.URITemplate, "{")
	return prefix
}

// Match reports whether uri starts with the template's literal prefix and, if
// so, returns the placeholder value with the prefix stripped.
func (r Resource) Match(uri string) (string, bool) {
	prefix := r.Prefix()
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	return strings.TrimPrefix(uri, prefix), true
}

// Descriptor returns the listing form of the resource. The URI carries the
// template text.
func (r Resource) Descriptor() mcp.Resource {
	return mcp.Resource{
		URI:         r.Template.URITemplate,
		Name:        r.Template.Name,
		Description: r.Template.Description,
		MimeType:    r.Template.MimeType,
	}
}

// validate checks that the template has exactly one placeholder and that it
// is the final segment.
func (r Resource) validate() error {
	tpl := r.Template.URITemplate
	open := strings.Count(tpl, "{")
	closing := strings.Count(tpl, "}")
	if open != 1 || closing != 1 || !strings.HasSuffix(tpl, "}") || strings.Index(tpl, "{") > strings.Index(tpl, "}") {
		return fmt.Errorf("%w: %q must end in a single {placeholder}", ErrInvalidTemplate, tpl)
	}
	if r.Prefix() == "" {
		return fmt.Errorf("%w: %q has an empty literal prefix", ErrInvalidTemplate, tpl)
	}
	if r.Handler == nil {
		return fmt.Errorf("%w: %q has no handler", ErrInvalidTemplate, tpl)
	}
	return nil
}
