// Package errors provides classified errors for GeoGate.
//
// Every error crossing a component boundary is one of three classes:
//
//   - Transient: upstream timeouts, dropped connections, rate limiting. Retry may help.
//   - Invalid: malformed envelopes, unsupported actions, oversized messages. Reply and continue.
//   - Fatal: broken invariants such as a duplicate connection id. Surface loudly.
//
// # Error Wrapping Pattern
//
// Wrapping follows a fixed format so logs stay greppable:
//
//	"component.method: action failed: %w"
//
// Use Wrap to preserve the original classification, or one of the
// classifying wrappers to set it:
//
//	errors.WrapTransient(err, "GeoClient", "Query", "call upstream")
//	errors.WrapInvalid(err, "Server", "readLoop", "decode envelope")
//	errors.WrapFatal(err, "Registry", "Insert", "store connection")
//
// Unclassified errors fall back to sentinel and message-pattern matching;
// anything still unknown is treated as transient.
//
// All functions are safe for concurrent use.
package errors
