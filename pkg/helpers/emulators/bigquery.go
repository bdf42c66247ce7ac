package emulators

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"
)

// BigQueryConfig describes one dataset and the tables to create in it. Tables maps
// a table name to a struct whose bigquery tags give the schema.
type BigQueryConfig struct {
	GCImageContainer
	DatasetID string
	Tables    map[string]any
}

const (
	testBigQueryEmulatorImage = "ghcr.io/goccy/bigquery-emulator:0.6.6"
	testBigQueryGRPCPort      = "9060"
	testBigQueryRestPort      = "9050"
)

func GetDefaultBigQueryConfig(projectID, datasetID string, tables map[string]any) BigQueryConfig {
	return BigQueryConfig{
		GCImageContainer: GCImageContainer{
			ImageContainer: ImageContainer{
				EmulatorImage:    testBigQueryEmulatorImage,
				EmulatorHTTPPort: testBigQueryRestPort,
				EmulatorGRPCPort: testBigQueryGRPCPort,
			},
			ProjectID: projectID,
		},
		DatasetID: datasetID,
		Tables:    tables,
	}
}

// SetupBigQueryEmulator starts the emulator, creates the dataset and its tables and
// returns the client options that reach it.
func SetupBigQueryEmulator(t *testing.T, ctx context.Context, cfg BigQueryConfig) ([]option.ClientOption, func()) {
	t.Helper()
	httpPort := fmt.Sprintf("%s/tcp", cfg.EmulatorHTTPPort)
	grpcPort := fmt.Sprintf("%s/tcp", cfg.EmulatorGRPCPort)
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{httpPort, grpcPort},
		Cmd: []string{
			"--project=" + cfg.ProjectID,
			"--dataset=" + cfg.DatasetID,
			"--port=" + cfg.EmulatorHTTPPort,
			"--grpc-port=" + cfg.EmulatorGRPCPort,
		},
		WaitingFor: wait.ForListeningPort(nat.Port(httpPort)).WithStartupTimeout(60 * time.Second),
	}
	container, hostPort := startContainer(t, ctx, req, httpPort)
	endpoint := "http://" + hostPort

	opts := []option.ClientOption{option.WithEndpoint(endpoint), option.WithoutAuthentication(), option.WithHTTPClient(&http.Client{})}
	if cfg.SetEnvVariables {
		t.Setenv("BIGQUERY_API_ENDPOINT", endpoint)
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	require.NoError(t, err)
	defer client.Close()

	dataset := client.Dataset(cfg.DatasetID)
	for name, schemaType := range cfg.Tables {
		schema, err := bigquery.InferSchema(schemaType)
		require.NoError(t, err)
		err = dataset.Table(name).Create(ctx, &bigquery.TableMetadata{Name: name, Schema: schema})
		if err != nil && !strings.Contains(err.Error(), "Already Exists") {
			require.NoError(t, err, "creating table %s", name)
		}
	}

	return opts, terminate(t, ctx, container)
}
