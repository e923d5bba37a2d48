// Package stdio implements a single-connection transport over stdin/stdout.
// It is intended for running the server as a subprocess of a desktop client,
// where piping JSON is simpler than exposing an HTTP port.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : none at the boundary; privileged tools still require
//	                   the authenticate tool when an API key is configured
//	Framing          : one JSON-RPC message per line
//
// Options allow supplying alternate io.Reader / io.Writer or a custom logger.
//
// Example:
//
//	h := stdio.NewHandler(eng, stdio.WithLogger(log))
//	if err := h.Serve(ctx); err != nil { log.Error("stdio", "err", err) }
package stdio
