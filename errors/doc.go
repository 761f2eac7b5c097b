// Package errors provides standardized error handling for the gqlpool gateway.
//
// # Error Classification
//
// Errors fall into three classes:
//
//   - Transient: backend failures, dropped connections, context timeouts. The
//     same request may succeed if sent again.
//   - Invalid: malformed query text, references to unknown tables or columns,
//     oversize frames. Sending the same request again will fail again.
//   - Fatal: the listener could not be bound, the configuration is unusable.
//     The gateway does not start.
//
// The error taxonomy of the gateway maps onto these classes:
//
//	ErrParse        invalid    request-scoped, carries a position
//	ErrTranslation  invalid    request-scoped
//	ErrBackend      transient  request-scoped, not retried automatically
//	ErrConnection   transient  connection-scoped, closes that connection only
//	ErrPool         fatal      startup only
//
// # Error Wrapping Pattern
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// through Wrap, WrapTransient, WrapInvalid and WrapFatal:
//
//	if err := store.Exec(ctx, stmts...); err != nil {
//	    return errors.WrapTransient(errors.Join(errors.ErrBackend, err),
//	        "Connection", "Process", "execute statements")
//	}
//
// Classification is preserved through error chains, and errors.Is keeps
// working against the sentinels:
//
//	if errors.Is(err, errors.ErrParse) {
//	    // report position to the caller
//	}
//
// # Response Codes
//
// Code maps an error to the short code carried in the extensions of an
// error response (PARSE_ERROR, TRANSLATION_ERROR, BACKEND_ERROR, ...).
package errors
