package shard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/illmade-knight/msmt-reprocessor/pkg/archive"
	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultThreshold is the uncompressed size past which a shard is finalized.
const DefaultThreshold int64 = 20 * 1024 * 1024

// Finalizer completes a full shard.
type Finalizer interface {
	Finalize(ctx context.Context, s *Shard) error
}

// BuilderConfig holds configuration for the Builder.
type BuilderConfig struct {
	// Dir receives the provisional shard files.
	Dir string
	// Day is the run day used in shard names.
	Day       time.Time
	Threshold int64
}

// Builder routes accepted measurements to one open shard per ShardKey and hands
// shards to the Finalizer once they grow past the threshold.
type Builder struct {
	config    BuilderConfig
	finalizer Finalizer
	logger    zerolog.Logger

	open   map[types.ShardKey]*Shard
	opened map[types.ShardKey]int
}

// NewBuilder creates a Builder.
func NewBuilder(config BuilderConfig, finalizer Finalizer, logger zerolog.Logger) (*Builder, error) {
	if finalizer == nil {
		return nil, errors.New("shard builder requires a finalizer")
	}
	if config.Threshold <= 0 {
		logger.Warn().Int64("provided_threshold", config.Threshold).Msg("Threshold must be positive, defaulting to 20 MiB.")
		config.Threshold = DefaultThreshold
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create shard directory %s: %w", config.Dir, err)
	}
	return &Builder{
		config:    config,
		finalizer: finalizer,
		logger:    logger.With().Str("component", "ShardBuilder").Logger(),
		open:      make(map[types.ShardKey]*Shard),
		opened:    make(map[types.ShardKey]int),
	}, nil
}

// Append writes the measurement to the open shard for key, opening one if needed,
// and finalizes the shard when it has grown past the threshold. The returned row
// has no path until its shard is finalized.
func (b *Builder) Append(ctx context.Context, key types.ShardKey, m *types.Measurement, a archive.Archive) (*types.LookupRow, error) {
	s, ok := b.open[key]
	if !ok {
		var err error
		s, err = openShard(b.config.Dir, key, b.config.Day, b.opened[key])
		if err != nil {
			return nil, err
		}
		b.opened[key]++
		b.open[key] = s
		b.logger.Debug().Str("shard_key", key.String()).Str("path", s.LocalPath).Msg("Opened shard")
	}

	row := &types.LookupRow{
		ReportID:       m.ReportID,
		Input:          m.InputValue(),
		MeasurementUID: m.UID,
		SourceDate:     a.Date,
		Source:         a.Key,
	}
	if err := s.write(m.Document, row); err != nil {
		return nil, err
	}

	if s.Size() > b.config.Threshold {
		b.logger.Info().Str("shard_key", key.String()).Int64("size", s.Size()).Msg("Shard is full, finalizing.")
		delete(b.open, key)
		if err := b.finalize(ctx, s); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// Drain finalizes every open shard, in key order.
func (b *Builder) Drain(ctx context.Context) error {
	keys := make([]types.ShardKey, 0, len(b.open))
	for k := range b.open {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	b.logger.Info().Int("key_count", len(keys)).Msg("Draining open shards")
	for _, k := range keys {
		s := b.open[k]
		delete(b.open, k)
		if err := b.finalize(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// finalize hands s to the finalizer. A shard that fails to finalize is no longer
// open, so its local file is discarded here.
func (b *Builder) finalize(ctx context.Context, s *Shard) error {
	err := b.finalizer.Finalize(ctx, s)
	if err == nil {
		return nil
	}
	if discardErr := s.discard(); discardErr != nil {
		b.logger.Warn().Err(discardErr).Str("path", s.LocalPath).Msg("Failed to discard shard")
	}
	return err
}

// Abort closes and deletes every open shard without publishing it.
func (b *Builder) Abort() {
	for k, s := range b.open {
		if err := s.discard(); err != nil {
			b.logger.Warn().Err(err).Str("path", s.LocalPath).Msg("Failed to discard shard")
		}
		delete(b.open, k)
	}
}

// OpenShards returns the number of shards currently open.
func (b *Builder) OpenShards() int { return len(b.open) }
