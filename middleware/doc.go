// Package middleware provides composable middleware for protocol event
// handling.
//
// A [Middleware] is a function that wraps an event handler. Middleware are
// composed into a chain using [Chain] and applied around every message the
// engine routes to a state machine. They are applied right-to-left: the
// first middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs message kind, duration, and outcome at each dispatch
//   - [Recover] — catches panics and converts them to errors
//   - [Tracing] — wraps handling in an OpenTelemetry span
//   - [Metrics] — records per-message duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, msg any, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
