// Package streaminghttp exposes the protocol over a single streaming HTTP
// endpoint (by default /message).
//
// Responsibilities
//   - Routing: OPTIONS answers the CORS preflight, GET and POST are served,
//     everything else is 404.
//   - Authentication: GET and POST must present the configured API key via
//     Authorization or X-API-Key (auth.CredentialFromRequest) or get 401
//     before any session state is touched.
//   - Session lifecycle: a SessionManager lazily creates one process-wide
//     Transport and one background goroutine running the protocol loop
//     against it. Concurrent first requests share the same transport.
//   - Framing: POSTed requests are answered with a single SSE event, or with
//     plain JSON when the client does not accept event streams. Notifications
//     get 202. GET opens the standalone event stream.
//
// Construction
//
//	mgr := streaminghttp.NewSessionManager(ctx, eng, streaminghttp.WithLogger(log))
//	defer mgr.Close()
//	h := streaminghttp.New(mgr, gate, streaminghttp.WithLogger(log))
//	http.ListenAndServe(":8080", h)
//
// # Error Handling
//
// Transport-level errors map to HTTP status codes; protocol errors are
// serialized as JSON-RPC error responses. A transport failure yields a 500
// only while the response is still untouched; after the first byte it is
// logged and dropped so a second status line is never attempted.
package streaminghttp
