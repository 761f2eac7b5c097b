// Package testutil holds shared test fixtures for gateway tests.
//
// Stores:
//
//   - StarWars and StarWarsSchema: the schema most tests run against
//   - NewSQLiteStore: an in-memory SQLite store with tables created
//   - NewMySQLStore: a MySQL store on a testcontainers MySQL server, for
//     tests behind the integration build tag
//
// NATS:
//
// MockNATSClient serves queue-group requests in memory, so request/reply
// front-ends can be tested without a server. Use natsclient.NewTestClient
// when a real server is needed.
//
// Example:
//
//	h := testutil.StarWars(t)
//	store := testutil.NewSQLiteStore(t, h)
//	gw, err := gateway.New(cfg, gateway.Deps{Schema: h, Store: store})
package testutil
