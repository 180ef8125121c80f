// Package infra provisions throwaway PostgreSQL databases for integration
// tests. Resolution order: an operator-supplied DSN, a Docker container,
// then a locally running server.
package infra

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// EnvDSN names an existing database to reuse instead of provisioning one.
// Tests using it are expected to isolate themselves in a per-run schema.
const EnvDSN = "GEARFLOW_TEST_PG_DSN"

// ErrNoDatabase reports that no provisioning path was available. Tests
// should skip on it rather than fail.
var ErrNoDatabase = errors.New("infra: no usable PostgreSQL")

// ProvisionPostgres yields a DSN for a PostgreSQL 16 database and a
// terminate func that releases whatever was provisioned. Databases reached
// through EnvDSN are never torn down.
func ProvisionPostgres(ctx context.Context) (string, func(context.Context) error, error) {
	if dsn := os.Getenv(EnvDSN); dsn != "" {
		return dsn, func(context.Context) error { return nil }, nil
	}

	if dockerAvailable(ctx) {
		return startContainer(ctx)
	}

	dsn, err := localDatabase(ctx)
	if err != nil {
		return "", nil, errors.Join(ErrNoDatabase, err)
	}
	return dsn, func(context.Context) error { return nil }, nil
}

func startContainer(ctx context.Context) (string, func(context.Context) error, error) {
	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("gearflow"),
		postgres.WithUsername("gearflow"),
		postgres.WithPassword("gearflow"),
	)
	if err != nil {
		return "", nil, err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return "", nil, err
	}

	return dsn, func(ctx context.Context) error { return pgC.Terminate(ctx) }, nil
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	cmd := exec.CommandContext(ctx, "docker", "info")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run() == nil
}
