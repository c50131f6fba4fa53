// Package testcontainers boots throwaway backing services for the e2e suites.
package testcontainers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"banjir.dev/floodwatch/internal/store"
)

const postgresImage = "postgres:16-alpine"

// Postgres is a running throwaway PostgreSQL instance. The owning suite
// terminates it when done.
type Postgres struct {
	container testcontainers.Container
	user      string
	password  string
	database  string
	host      string
	port      int
}

// RunPostgres starts a PostgreSQL container and blocks until it accepts
// connections.
func RunPostgres(ctx context.Context, name, user, password, database string) (*Postgres, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			Name:         name,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     user,
				"POSTGRES_PASSWORD": password,
				"POSTGRES_DB":       database,
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections"),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to resolve postgres host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to resolve postgres port: %w", err)
	}

	return &Postgres{
		container: container,
		user:      user,
		password:  password,
		database:  database,
		host:      host,
		port:      port.Int(),
	}, nil
}

// DBConfig returns a store configuration pointing at the container.
func (p *Postgres) DBConfig(logger *slog.Logger) *store.DBConfig {
	return &store.DBConfig{
		Logger:   logger,
		Host:     p.host,
		Port:     p.port,
		User:     p.user,
		Password: p.password,
		DBName:   p.database,
		SSLMode:  "disable",
	}
}

// ContainerID exposes the underlying container id for logging.
func (p *Postgres) ContainerID() string {
	return p.container.GetContainerID()
}

// Terminate stops and removes the container.
func (p *Postgres) Terminate(ctx context.Context) error {
	return p.container.Terminate(ctx)
}
