package emulators

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type PostgresConfig struct {
	ImageContainer
	User     string
	Password string
	Database string
	// InitSQL is executed once the server accepts connections.
	InitSQL []string
}

const (
	testPostgresImage = "postgres:16-alpine"
	testPostgresPort  = "5432"
)

func GetDefaultPostgresConfig(database string, initSQL ...string) PostgresConfig {
	return PostgresConfig{
		ImageContainer: ImageContainer{
			EmulatorImage:    testPostgresImage,
			EmulatorHTTPPort: testPostgresPort,
		},
		User:     "reprocessor",
		Password: "reprocessor",
		Database: database,
		InitSQL:  initSQL,
	}
}

// SetupPostgresContainer starts PostgreSQL, runs the init statements and returns the
// DSN of the database.
func SetupPostgresContainer(t *testing.T, ctx context.Context, cfg PostgresConfig) (dsn string, cleanupFunc func()) {
	t.Helper()

	port := fmt.Sprintf("%s/tcp", cfg.EmulatorHTTPPort)
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{port},
		Env: map[string]string{
			"POSTGRES_USER":     cfg.User,
			"POSTGRES_PASSWORD": cfg.Password,
			"POSTGRES_DB":       cfg.Database,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort(nat.Port(port)),
		).WithDeadline(60 * time.Second),
	}
	container, hostPort := startContainer(t, ctx, req, port)
	dsn = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", cfg.User, cfg.Password, hostPort, cfg.Database)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	for _, stmt := range cfg.InitSQL {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	return dsn, terminate(t, ctx, container)
}
