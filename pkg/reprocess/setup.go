package reprocess

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/illmade-knight/msmt-reprocessor/pkg/archive"
	"github.com/illmade-knight/msmt-reprocessor/pkg/bqstore"
	"github.com/illmade-knight/msmt-reprocessor/pkg/config"
	"github.com/illmade-knight/msmt-reprocessor/pkg/filter"
	"github.com/illmade-knight/msmt-reprocessor/pkg/metrics"
	"github.com/illmade-knight/msmt-reprocessor/pkg/objectstore"
	"github.com/illmade-knight/msmt-reprocessor/pkg/pgstore"
	"github.com/illmade-knight/msmt-reprocessor/pkg/publish"
	"github.com/illmade-knight/msmt-reprocessor/pkg/scoring"
	"github.com/illmade-knight/msmt-reprocessor/pkg/shard"
	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
)

// TableWriter is a backend for both the index and the analysis table.
type TableWriter interface {
	shard.IndexWriter
	scoring.AnalysisWriter
}

// Pipeline is a fully wired run together with the resources it owns.
type Pipeline struct {
	RunID    string
	Driver   *Driver
	Counters *metrics.Counters

	workDir string
	closers []func() error
	logger  zerolog.Logger
}

// Setup builds every collaborator of a run from a validated configuration. The
// returned Pipeline must be closed.
func Setup(ctx context.Context, cfg *config.RunConfig, logger zerolog.Logger) (p *Pipeline, err error) {
	runID := uuid.NewString()
	logger = logger.With().Str("run_id", runID).Logger()

	base := cfg.WorkDir
	if base == "" {
		base = os.TempDir()
	}
	p = &Pipeline{
		RunID:    runID,
		Counters: metrics.NewCounters(),
		workDir:  filepath.Join(base, "reprocessor-"+runID),
		logger:   logger.With().Str("component", "Pipeline").Logger(),
	}
	defer func() {
		if err != nil {
			_ = p.Close()
			p = nil
		}
	}()
	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return p, fmt.Errorf("failed to create work directory: %w", err)
	}

	srcStore, err := openStore(ctx, cfg.Source, cfg, true, logger)
	if err != nil {
		return p, fmt.Errorf("source store: %w", err)
	}
	p.closers = append(p.closers, srcStore.Close)

	var dstStore objectstore.ObjectStore
	if cfg.PublishPolicy != types.PublishDryRun {
		dstStore, err = openStore(ctx, cfg.Destination, cfg, false, logger)
		if err != nil {
			return p, fmt.Errorf("destination store: %w", err)
		}
		p.closers = append(p.closers, dstStore.Close)
	}

	var tables TableWriter
	if cfg.NeedsDatabase() {
		var closeTables func() error
		tables, closeTables, err = OpenTables(ctx, cfg.DBURI, logger)
		if err != nil {
			return p, err
		}
		p.closers = append(p.closers, closeTables)
	}

	dedup, err := openDeduplicator(ctx, cfg, runID, logger)
	if err != nil {
		return p, err
	}
	p.closers = append(p.closers, dedup.Close)

	source, err := archive.NewSource(srcStore, filepath.Join(p.workDir, "archives"), logger)
	if err != nil {
		return p, err
	}
	validator, err := filter.NewValidator(dedup, p.Counters, logger)
	if err != nil {
		return p, err
	}
	publisher, err := publish.NewPublisher(dstStore, cfg.PublishPolicy, p.Counters, logger)
	if err != nil {
		return p, err
	}
	finalizer, err := shard.NewShardFinalizer(publisher, tables, cfg.IndexPolicy, p.Counters, logger)
	if err != nil {
		return p, err
	}
	builder, err := shard.NewBuilder(shard.BuilderConfig{
		Dir:       filepath.Join(p.workDir, "shards"),
		Day:       cfg.Date,
		Threshold: cfg.ShardThreshold,
	}, finalizer, logger)
	if err != nil {
		return p, err
	}

	var scorer scoring.Scorer = scoring.NopScorer{}
	if cfg.ScorerURL != "" {
		if scorer, err = scoring.NewHTTPScorer(cfg.ScorerURL, &http.Client{}, logger); err != nil {
			return p, err
		}
	}
	adapter, err := scoring.NewAdapter(scorer, tables, scoring.AdapterConfig{
		Policy:    cfg.AnalysisPolicy,
		BatchSize: cfg.AnalysisBatchSize,
	}, logger)
	if err != nil {
		return p, err
	}

	p.Driver, err = NewDriver(runID, cfg.Date, Components{
		Source:   source,
		Decoder:  archive.NewDecoder(logger),
		Filter:   validator,
		Shards:   builder,
		Scorer:   adapter,
		Counters: p.Counters,
	}, logger)
	if err != nil {
		return p, err
	}

	p.logger.Info().
		Str("source", cfg.Source).
		Str("destination", cfg.Destination).
		Stringer("index_policy", cfg.IndexPolicy).
		Stringer("analysis_policy", cfg.AnalysisPolicy).
		Stringer("publish_policy", cfg.PublishPolicy).
		Str("dedup", cfg.Dedup).
		Str("work_dir", p.workDir).
		Msg("Pipeline ready")
	return p, nil
}

// Close releases every resource in reverse order of acquisition and removes the
// run's work directory.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	if err := os.RemoveAll(p.workDir); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove work directory: %w", err))
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, raw string, cfg *config.RunConfig, readOnly bool, logger zerolog.Logger) (objectstore.ObjectStore, error) {
	loc, err := objectstore.ParseLocation(raw)
	if err != nil {
		return nil, err
	}
	opts := objectstore.Options{
		ReadOnly: readOnly,
		S3: objectstore.S3ClientConfig{
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		},
	}
	if !readOnly {
		opts.S3.AccessKey = cfg.S3AccessKey
		opts.S3.SecretKey = cfg.S3SecretKey
		opts.GCSCredentialsFile = cfg.GCSCredentialsFile
	}
	return objectstore.Open(ctx, loc, opts, logger)
}

func openDeduplicator(ctx context.Context, cfg *config.RunConfig, runID string, logger zerolog.Logger) (filter.Deduplicator, error) {
	if cfg.Dedup == config.DedupRedis {
		return filter.NewRedisDeduplicator(ctx, &filter.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.DayKey(), runID, logger)
	}
	return filter.NewInMemoryDeduplicator(logger), nil
}

// OpenTables selects the table backend from the database URI scheme.
func OpenTables(ctx context.Context, uri string, logger zerolog.Logger) (TableWriter, func() error, error) {
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		store, err := pgstore.Open(ctx, pgstore.Config{DSN: uri}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case strings.HasPrefix(uri, "bigquery://"):
		bqCfg, err := bqstore.ParseURI(uri)
		if err != nil {
			return nil, nil, err
		}
		client, err := bqstore.NewProductionBigQueryClient(ctx, bqCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		store, err := bqstore.NewStore(bqstore.NewQueryRunner(client), bqCfg, logger)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported database uri %q", config.ErrInvalidSetting, uri)
	}
}
