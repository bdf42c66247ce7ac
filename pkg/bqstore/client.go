package bqstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const (
	DefaultIndexTable    = "jsonl"
	DefaultAnalysisTable = "fastpath"
)

// BigQueryDatasetConfig holds configuration for the BigQuery store.
type BigQueryDatasetConfig struct {
	ProjectID       string
	DatasetID       string
	IndexTable      string
	AnalysisTable   string
	CredentialsFile string // Optional: For production if not using ADC
}

// LoadBigQueryConfigFromEnv loads BigQuery configuration from environment variables.
func LoadBigQueryConfigFromEnv() (*BigQueryDatasetConfig, error) {
	cfg := &BigQueryDatasetConfig{
		ProjectID:       os.Getenv("GCP_PROJECT_ID"),
		DatasetID:       os.Getenv("BQ_DATASET_ID"),
		IndexTable:      os.Getenv("BQ_INDEX_TABLE_ID"),
		AnalysisTable:   os.Getenv("BQ_ANALYSIS_TABLE_ID"),
		CredentialsFile: os.Getenv("GCP_BQ_CREDENTIALS_FILE"),
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT_ID environment variable not set for BigQuery config")
	}
	if cfg.DatasetID == "" {
		return nil, fmt.Errorf("BQ_DATASET_ID environment variable not set for BigQuery config")
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ParseURI reads a bigquery://PROJECT/DATASET connection string. Table names may
// be overridden with the index_table and analysis_table query parameters. A bare
// "bigquery://" takes the whole configuration from the environment.
func ParseURI(raw string) (*BigQueryDatasetConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid bigquery URI: %w", err)
	}
	if u.Scheme != "bigquery" {
		return nil, fmt.Errorf("not a bigquery URI: %q", raw)
	}
	if u.Host == "" && strings.Trim(u.Path, "/") == "" && u.RawQuery == "" {
		return LoadBigQueryConfigFromEnv()
	}
	dataset := strings.Trim(u.Path, "/")
	if u.Host == "" || dataset == "" || strings.Contains(dataset, "/") {
		return nil, fmt.Errorf("bigquery URI must look like bigquery://PROJECT/DATASET, got %q", raw)
	}
	q := u.Query()
	cfg := &BigQueryDatasetConfig{
		ProjectID:       u.Host,
		DatasetID:       dataset,
		IndexTable:      q.Get("index_table"),
		AnalysisTable:   q.Get("analysis_table"),
		CredentialsFile: q.Get("credentials_file"),
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *BigQueryDatasetConfig) applyDefaults() {
	if c.IndexTable == "" {
		c.IndexTable = DefaultIndexTable
	}
	if c.AnalysisTable == "" {
		c.AnalysisTable = DefaultAnalysisTable
	}
}

// NewProductionBigQueryClient creates a BigQuery client suitable for production.
func NewProductionBigQueryClient(ctx context.Context, cfg *BigQueryDatasetConfig, logger zerolog.Logger, extra ...option.ClientOption) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for BigQuery client")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client")
	}
	opts = append(opts, extra...)

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		logger.Error().Err(err).Str("project_id", cfg.ProjectID).Msg("Failed to create BigQuery client")
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	logger.Info().Str("project_id", cfg.ProjectID).Msg("BigQuery client created successfully.")
	return client, nil
}

// QueryRunner executes one DML statement and waits for it to complete.
type QueryRunner interface {
	Run(ctx context.Context, sql string, params []bigquery.QueryParameter) error
}

type clientRunner struct {
	client *bigquery.Client
}

// NewQueryRunner adapts a BigQuery client to QueryRunner.
func NewQueryRunner(client *bigquery.Client) QueryRunner {
	return &clientRunner{client: client}
}

func (r *clientRunner) Run(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := r.client.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("failed to start query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job %s failed: %w", job.ID(), err)
	}
	return nil
}
