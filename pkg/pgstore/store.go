package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ====================================================================================
// PostgreSQL backend for the lookup index (table jsonl) and the analysis table
// (table fastpath). Every call runs as one explicit transaction: all rows of a call
// are committed together or not at all.
// ====================================================================================

// TxBeginner is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config holds the connection settings.
type Config struct {
	DSN      string
	MaxConns int32
}

// Store implements shard.IndexWriter and scoring.AnalysisWriter.
type Store struct {
	db     TxBeginner
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Open creates a pool and checks connectivity.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	} else {
		poolCfg.MaxConns = 2
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	logger.Info().Str("host", poolCfg.ConnConfig.Host).Str("database", poolCfg.ConnConfig.Database).Msg("Connected to PostgreSQL")

	s, err := NewStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// NewStore wraps an existing connection or pool.
func NewStore(db TxBeginner, logger zerolog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres store requires a connection")
	}
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "PostgresStore").Logger(),
	}, nil
}

// inTx runs fn in a transaction that is committed when fn returns nil and rolled
// back on error or panic.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.db, fn)
}

// sendBatch executes every queued statement and returns the total rows affected.
func sendBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch) (int64, error) {
	br := tx.SendBatch(ctx, b)
	var affected int64
	for i := 0; i < b.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return affected, err
		}
		affected += tag.RowsAffected()
	}
	return affected, br.Close()
}

// Close releases the pool when the Store owns one.
func (s *Store) Close() error {
	if s.pool != nil {
		s.logger.Info().Msg("Closing PostgreSQL pool...")
		s.pool.Close()
	}
	return nil
}
