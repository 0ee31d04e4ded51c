// Package testutil starts throwaway PostgreSQL containers for integration
// tests. Callers guard their tests with the integration build tag.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/prepbook/store"
)

// PostgresURL starts a PostgreSQL container, applies the schema migrations and
// returns the connection URL. The container is terminated when t finishes.
func PostgresURL(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { postgres.Terminate(ctx) })

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	url := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	if err := store.Migrate(url); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return url
}

// PostgresDB is PostgresURL plus an open, pinged connection.
func PostgresDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", PostgresURL(t))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for i := 0; i < 30; i++ {
		if err = db.Ping(); err == nil {
			return db
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Failed to ping database: %v", err)
	return nil
}
