// Package testutil provides shared test infrastructure for integration tests
// that require a Postgres container with pgvector.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    defer tc.Terminate()
//	    testDB, _ = tc.NewTestDB(context.Background(), logger)
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/eje-systems/eje/internal/embedding"
	"github.com/eje-systems/eje/internal/pgstore"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts a Postgres container with the pgvector extension
// pre-created. Uses the timescale/timescaledb image because it bundles
// pgvector in a single image; the timescaledb extension itself is never
// created since the engine has no time-series hypertable of its own. Calls
// os.Exit(1) on failure (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "timescale/timescaledb:latest-pg18",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "eje",
			"POSTGRES_PASSWORD": "eje",
			"POSTGRES_DB":       "eje",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://eje:eje@%s:%s/eje?sslmode=disable", host, port.Port())

	// Bootstrap the vector extension before any pool is created so pgvector
	// types get registered on the pool's AfterConnect hook.
	bootstrapConn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to bootstrap connection: %v\n", err)
		os.Exit(1)
	}
	if _, err := bootstrapConn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to create vector extension: %v\n", err)
		os.Exit(1)
	}
	_ = bootstrapConn.Close(ctx)

	return &TestContainer{Container: container, DSN: dsn}
}

// TestDB bundles the pool plus both pgstore-backed reference
// implementations, schema-bootstrapped and ready for use in tests.
type TestDB struct {
	DB        *pgstore.DB
	Precedent *pgstore.PrecedentStore
	Audit     *pgstore.AuditLog
}

// NewTestDB creates a pgstore.DB connected to this container, along with a
// PrecedentStore (using a NoopProvider — tests that need real embeddings
// provide their own Provider and call EnsureSchema directly) and an unsigned
// AuditLog, with both schemas bootstrapped.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*TestDB, error) {
	db, err := pgstore.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}

	const testDims = 8
	precedentStore := pgstore.NewPrecedentStore(db, embedding.NewNoopProvider(testDims))
	if err := precedentStore.EnsureSchema(ctx, testDims); err != nil {
		return nil, fmt.Errorf("testutil: ensure precedent schema: %w", err)
	}

	auditLog := pgstore.NewAuditLog(db, nil)
	if err := auditLog.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("testutil: ensure audit schema: %w", err)
	}

	return &TestDB{DB: db, Precedent: precedentStore, Audit: auditLog}, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
