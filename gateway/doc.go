// Package gateway is the public entry point to gqlpool.
//
// A Gateway owns a reactor-driven pool of connections. Callers submit query
// or mutation text and receive a future that resolves once with the
// response text:
//
//	gw, err := gateway.New(gateway.DefaultConfig(), gateway.Deps{
//	    Schema: h,
//	    Store:  store,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := gw.Start(ctx); err != nil {
//	    return err
//	}
//	defer gw.Stop(5 * time.Second)
//
//	body, err := gw.Get(`{ Human (id: 1000) { name friends { name } } }`).Wait(ctx)
//
// Queries answer with {"<Type>": object-or-array}. Mutations answer with
// {"<Type>": {"affected": N}}. Failed requests resolve with an error payload
// of the form {"errors": [...]} together with the error itself.
//
// Front-ends that do not speak the socket protocol (HTTP, WebSocket, NATS)
// sit on top of Do; see frontend/httpfe and frontend/natsfe.
package gateway
