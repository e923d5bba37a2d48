// Package mcp contains the Model Context Protocol data types and method
// constants used by the server. It mirrors the wire representation of the
// subset of the protocol this server speaks (lifecycle, tools, resources,
// ping) while keeping the surface Go-friendly: exported structs with json
// tags and string constants for method names.
//
// The package is free of transport logic. The streaming HTTP and stdio
// transports import these types but implement their own framing and
// authentication; the dispatcher in internal/engine builds results from them.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsCallMethod).
//
// # Content
//
// Tool results and resource reads are always a single text item. Structured
// values are rendered as indented JSON before they reach these types:
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "[\n  \"vm-1\"\n]"}},
//	}
//
// # Versions
//
// LatestProtocolVersion is returned from initialize unless the client asks
// for one of the older SupportedProtocolVersions.
package mcp
