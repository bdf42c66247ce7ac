package filter

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Deduplicator remembers the measurement identities accepted during a run.
// It is owned by the run driver and discarded with it.
type Deduplicator interface {
	Seen(ctx context.Context, uid string) (bool, error)
	Add(ctx context.Context, uid string) error
	Close() error
}

// InMemoryDeduplicator keeps the identity set in a map.
type InMemoryDeduplicator struct {
	seen   map[string]struct{}
	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewInMemoryDeduplicator creates an empty set.
func NewInMemoryDeduplicator(logger zerolog.Logger) *InMemoryDeduplicator {
	return &InMemoryDeduplicator{
		seen:   make(map[string]struct{}),
		logger: logger.With().Str("component", "InMemoryDeduplicator").Logger(),
	}
}

func (d *InMemoryDeduplicator) Seen(ctx context.Context, uid string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seen[uid]
	return ok, nil
}

func (d *InMemoryDeduplicator) Add(ctx context.Context, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[uid] = struct{}{}
	return nil
}

// Len returns the number of identities recorded.
func (d *InMemoryDeduplicator) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.seen)
}

func (d *InMemoryDeduplicator) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Debug().Int("identities", len(d.seen)).Msg("Discarding deduplication set")
	d.seen = make(map[string]struct{})
	return nil
}
