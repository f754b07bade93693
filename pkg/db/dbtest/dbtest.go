// Package dbtest starts a throwaway Postgres container with the dealmemo
// schema applied, for integration tests.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/otherjamesbrown/dealmemo/pkg/db"
)

// Postgres is a running container and a pool connected to it.
type Postgres struct {
	Pool      *pgxpool.Pool
	container testcontainers.Container
}

// Start launches postgres:16-alpine and runs the embedded migrations.
func Start(ctx context.Context) (*Postgres, error) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "dealmemo",
				"POSTGRES_PASSWORD": "dealmemo",
				"POSTGRES_DB":       "dealmemo",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	cfg := db.DefaultConfig()
	cfg.URL = fmt.Sprintf("postgres://dealmemo:dealmemo@%s:%s/dealmemo?sslmode=disable", host, port.Port())
	pool, err := db.ConnectWithRetry(ctx, cfg, 10, time.Second)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	if _, err := db.RunMigrations(ctx, pool, db.Migrations()); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("migrating: %w", err)
	}
	return &Postgres{Pool: pool, container: container}, nil
}

// Stop closes the pool and removes the container.
func (p *Postgres) Stop(ctx context.Context) {
	p.Pool.Close()
	_ = p.container.Terminate(ctx)
}
