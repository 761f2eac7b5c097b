// Package natsclient wraps a NATS connection with circuit breaker
// protection, reconnect bookkeeping and queue-group request/reply.
//
// Connection lifecycle: Disconnected → Connecting → Connected, then
// Reconnecting → Connected as the server comes and goes. After a run of
// failed Connect calls (default: 5) the circuit opens and Connect fails fast
// until the backoff has elapsed. Backoff doubles with every opening, capped
// by WithMaxBackoff.
//
// Basic usage:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry.CoreMetrics()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.QueueSubscribe(ctx, "gqlpool.get", "gqlpool",
//	    func(ctx context.Context, data []byte, respond func(natsclient.Reply) error) {
//	        _ = respond(natsclient.Reply{Data: data})
//	    })
//
// Tests that need a real server use NewTestClient, which starts a NATS
// container through testcontainers.
package natsclient
