package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/gqlpool/backend"
	"github.com/c360/gqlpool/schema"
)

const mysqlRootPassword = "gqlpool"

// NewMySQLContainer starts a MySQL server and returns a DSN for its root
// user, without a database name. The container is removed when the test
// ends.
func NewMySQLContainer(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": mysqlRootPassword,
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("3306/tcp"),
			// The entrypoint starts a temporary server first.
			wait.ForLog("ready for connections").WithOccurrence(2),
		).WithDeadline(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start MySQL container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306")
	require.NoError(t, err)

	return fmt.Sprintf("root:%s@tcp(%s:%s)/", mysqlRootPassword, host, port.Port())
}

// NewMySQLStore creates h's database on a fresh MySQL container and
// bootstraps its tables.
func NewMySQLStore(t testing.TB, h *schema.Handle) *backend.Store {
	t.Helper()
	ctx := context.Background()

	store, err := backend.Open(ctx, backend.Config{
		Driver:         backend.MySQL,
		DSN:            NewMySQLContainer(t),
		Database:       h.Database,
		CreateDatabase: true,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Bootstrap(ctx, h))
	return store
}
