// Package errors provides the structured error taxonomy used across podwork.
//
// Errors carry a code identifying the failure and a category describing
// how callers should react to it:
//
//   - Transient: temporary failures where retry may succeed (listener busy, bus down)
//   - Permanent: failures where retry will not help (bad configuration)
//   - Internal: unexpected errors indicating bugs
//
// # Usage
//
//	err := errors.InvalidInput("server.port must be between 1 and 65535")
//
//	wrapped := errors.Wrap(ctx.Err(), "draining http server")
//	if errors.Is(wrapped, errors.ErrCodeTimeout) {
//	    // shutdown deadline expired
//	}
package errors
