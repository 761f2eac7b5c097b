// Package retry provides exponential backoff for the few operations the
// gateway retries: binding its listener, dialling loopback connections and
// client dials against a gateway that is still starting.
//
// Do runs a function until it succeeds. Errors marked with NonRetryable, and
// errors the errors package classifies as fatal or invalid, end the loop at
// once:
//
//	ln, err := retry.DoWithResult(ctx, retry.Bind(), func() (net.Listener, error) {
//		return net.Listen("tcp", addr)
//	})
//
// Zero Config fields take their DefaultConfig values.
package retry
