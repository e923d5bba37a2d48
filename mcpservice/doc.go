// Package mcpservice holds the static catalog of tools and resources the
// dispatcher serves.
//
// Tools are declared with NewTool from a typed argument struct. The input
// schema is reflected from the struct's json and jsonschema tags, and call
// arguments are strictly decoded into it before the handler runs:
//
//	type pingArgs struct {
//	    Message string `json:"message,omitempty" jsonschema:"description=Message to echo back,default=pong"`
//	}
//
//	reg := mcpservice.NewRegistry()
//	err := reg.Register(mcpservice.NewTool("ping",
//	    func(ctx context.Context, a pingArgs) (string, error) {
//	        return "Ping response: " + a.Message, nil
//	    },
//	    mcpservice.WithToolDescription("Echo a message back"),
//	))
//
// Resources are URI templates with a single placeholder. The placeholder
// value is whatever follows the template's literal prefix:
//
//	reg.RegisterResource(mcpservice.NewResource("vmStats", "vmstats://{vm_name}", statsFor,
//	    mcpservice.WithResourceMimeType("application/json")))
//
// A Registry is built once at startup. Registration order is preserved in
// listings and names must be unique.
package mcpservice
