package shard

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
)

// Publisher makes a local shard file available at a destination key.
type Publisher interface {
	Publish(ctx context.Context, localPath, key string) error
}

// IndexWriter stores lookup rows under a write policy.
type IndexWriter interface {
	WriteIndex(ctx context.Context, rows []types.LookupRow, policy types.WritePolicy) error
}

// FileCounter counts finalized shard files.
type FileCounter interface {
	FileGenerated()
}

// ShardFinalizer implements Finalizer: close, hash, name, publish, index, delete.
// Every failure after the stream is closed is returned and aborts the run.
type ShardFinalizer struct {
	publisher   Publisher
	index       IndexWriter
	indexPolicy types.WritePolicy
	counter     FileCounter
	logger      zerolog.Logger
}

// NewShardFinalizer creates a ShardFinalizer. index may be nil when indexPolicy is
// PolicySkip; counter may be nil.
func NewShardFinalizer(publisher Publisher, index IndexWriter, indexPolicy types.WritePolicy, counter FileCounter, logger zerolog.Logger) (*ShardFinalizer, error) {
	if publisher == nil {
		return nil, errors.New("shard finalizer requires a publisher")
	}
	if index == nil && indexPolicy != types.PolicySkip {
		return nil, fmt.Errorf("index policy %s requires an index writer", indexPolicy)
	}
	return &ShardFinalizer{
		publisher:   publisher,
		index:       index,
		indexPolicy: indexPolicy,
		counter:     counter,
		logger:      logger.With().Str("component", "ShardFinalizer").Logger(),
	}, nil
}

func (f *ShardFinalizer) Finalize(ctx context.Context, s *Shard) error {
	if err := s.close(); err != nil {
		return err
	}

	dest := DestinationPath(s.Key, s.Day, ContentHash(s.rows))
	rows := make([]types.LookupRow, len(s.rows))
	for i, r := range s.rows {
		r.Path = dest
		rows[i] = *r
	}
	if f.counter != nil {
		f.counter.FileGenerated()
	}
	f.logger.Info().Str("local_path", s.LocalPath).Str("object_name", dest).Int("row_count", len(rows)).Int64("size", s.size).Msg("Finalizing shard")

	if err := f.publisher.Publish(ctx, s.LocalPath, dest); err != nil {
		return fmt.Errorf("failed to publish shard %s: %w", dest, err)
	}
	if f.indexPolicy != types.PolicySkip {
		if err := f.index.WriteIndex(ctx, rows, f.indexPolicy); err != nil {
			return fmt.Errorf("failed to index shard %s: %w", dest, err)
		}
	}
	if err := os.Remove(s.LocalPath); err != nil {
		return fmt.Errorf("failed to delete local shard %s: %w", s.LocalPath, err)
	}
	s.state = StateFinalized
	return nil
}
