// Package server provides the HTTP surface the device downloads packages from.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first). [Recovery], [Logging]
// and [CORS] are the stock middleware.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally, so routes may use method
// and wildcard patterns.
//
// # Package Handler
//
// [PackageHandler] serves GET /package/{name} from the file registered for the task. The
// device downloads with ranged GETs, and the end of each range is the only progress signal
// the server sees: when the request carries the device's User-Agent and the task has a known
// length, the range end becomes the transferred byte count and the task is classified with
// [Classify]. A transfer ending within [DeviceRoundingTolerance] bytes of the length counts as
// complete. Each observation also pushes the task's pending removal time 40 seconds ahead.
//
// Unknown names answer 404 with {"status":"fail","message":"Content not found in content map."}.
//
// # Listener Lifecycle
//
// [Server] owns the listener. [Server.Listen] closes the previous listener before binding, so the
// package server can move ports when the operator changes settings.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
