package publish

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/illmade-knight/msmt-reprocessor/pkg/objectstore"
	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
)

// Check is the outcome of comparing a local shard with its published copy.
type Check int

const (
	CheckSame Check = iota
	CheckNotFound
	CheckDifferent
)

func (c Check) String() string {
	switch c {
	case CheckSame:
		return "same"
	case CheckNotFound:
		return "not-found"
	case CheckDifferent:
		return "different"
	default:
		return fmt.Sprintf("Check(%d)", int(c))
	}
}

// Counter receives publish observations.
type Counter interface {
	FileUploaded()
	FileSizeMismatch()
}

// Publisher applies a PublishPolicy to finalized shards on the destination store.
// It implements shard.Publisher.
type Publisher struct {
	store   objectstore.ObjectStore
	policy  types.PublishPolicy
	counter Counter
	logger  zerolog.Logger
}

// NewPublisher creates a Publisher. store may be nil only for PublishDryRun; counter
// may be nil.
func NewPublisher(store objectstore.ObjectStore, policy types.PublishPolicy, counter Counter, logger zerolog.Logger) (*Publisher, error) {
	if store == nil && policy != types.PublishDryRun {
		return nil, fmt.Errorf("publish policy %s requires a destination store", policy)
	}
	return &Publisher{
		store:   store,
		policy:  policy,
		counter: counter,
		logger:  logger.With().Str("component", "Publisher").Str("policy", policy.String()).Logger(),
	}, nil
}

// Publish makes localPath available at key according to the policy. Storage
// errors are returned; a size mismatch is only recorded.
func (p *Publisher) Publish(ctx context.Context, localPath, key string) error {
	switch p.policy {
	case types.PublishDryRun:
		p.logger.Info().Str("object_name", key).Msg("Dry run, not publishing")
		return nil
	case types.PublishVerifyOnly:
		_, err := p.Verify(ctx, localPath, key)
		return err
	case types.PublishCreate:
		return p.upload(ctx, localPath, key)
	case types.PublishCreateIfMissing:
		check, err := p.Verify(ctx, localPath, key)
		if err != nil {
			return err
		}
		if check == CheckNotFound {
			return p.upload(ctx, localPath, key)
		}
		return nil
	default:
		return fmt.Errorf("%w: publish policy %d", types.ErrInvalidPolicy, int(p.policy))
	}
}

// Verify compares the local file size with the published object.
func (p *Publisher) Verify(ctx context.Context, localPath, key string) (Check, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return CheckNotFound, fmt.Errorf("failed to stat local shard %s: %w", localPath, err)
	}
	attrs, err := p.store.Stat(ctx, key)
	if errors.Is(err, objectstore.ErrObjectNotExist) {
		p.logger.Info().Str("object_name", key).Msg("Object not found at destination")
		if p.policy == types.PublishVerifyOnly {
			p.mismatch()
		}
		return CheckNotFound, nil
	}
	if err != nil {
		return CheckNotFound, fmt.Errorf("failed to check %s: %w", key, err)
	}
	if attrs.Size != info.Size() {
		p.logger.Warn().Str("object_name", key).Int64("remote_size", attrs.Size).Int64("local_size", info.Size()).Msg("Size difference")
		p.mismatch()
		return CheckDifferent, nil
	}
	p.logger.Debug().Str("object_name", key).Msg("Object found")
	return CheckSame, nil
}

func (p *Publisher) upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local shard %s: %w", localPath, err)
	}
	defer f.Close()

	n, err := p.store.Upload(ctx, key, f)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	if p.counter != nil {
		p.counter.FileUploaded()
	}
	p.logger.Info().Str("object_name", key).Int64("bytes_written", n).Msg("Uploaded shard")
	return nil
}

func (p *Publisher) mismatch() {
	if p.counter != nil {
		p.counter.FileSizeMismatch()
	}
}
