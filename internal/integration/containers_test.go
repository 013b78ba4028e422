//go:build integration

// Package integration runs the backbone's Postgres-backed components
// against a real database spun up in a container, the way the imported
// stack (event store, outbox, checkpoint, saga repository) is meant to be
// exercised: no mocks on the one dependency that matters, a single
// FOR UPDATE/SKIP LOCKED implementation detail that in-memory fakes would
// paper over. Build-tagged off the default test run since it needs Docker.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	pgrepo "github.com/ftgo/backbone/internal/adapter/repo/postgres"
)

// startPostgres brings up a disposable Postgres instance, applies the
// backbone's migrations, and returns a connected pool. The container is
// torn down via t.Cleanup.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "ftgo"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := "postgres://postgres:postgres@" + host + ":" + port.Port() + "/ftgo?sslmode=disable"

	var pool *pgxpool.Pool
	require.Eventually(t, func() bool {
		p, err := pgrepo.NewPool(ctx, dsn)
		if err != nil {
			return false
		}
		pool = p
		return true
	}, 30*time.Second, 500*time.Millisecond)
	t.Cleanup(pool.Close)

	require.NoError(t, pgrepo.Migrate(ctx, pool))
	return pool
}
