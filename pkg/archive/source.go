package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/illmade-knight/msmt-reprocessor/pkg/objectstore"
	"github.com/rs/zerolog"
)

// Source lists and fetches the cans of one day from a read-only object store.
type Source struct {
	store   objectstore.ObjectStore
	workDir string
	logger  zerolog.Logger
}

// NewSource creates a Source that downloads into workDir.
func NewSource(store objectstore.ObjectStore, workDir string, logger zerolog.Logger) (*Source, error) {
	if store == nil {
		return nil, errors.New("archive source requires an object store")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory %s: %w", workDir, err)
	}
	return &Source{
		store:   store,
		workDir: workDir,
		logger:  logger.With().Str("component", "ArchiveSource").Logger(),
	}, nil
}

// List returns the day's cans sorted by key, together with their total size.
func (s *Source) List(ctx context.Context, day time.Time) ([]Archive, int64, error) {
	prefix := DayPrefix(day)
	objects, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cans under %s: %w", prefix, err)
	}

	var archives []Archive
	var total int64
	for _, obj := range objects {
		if !IsCan(obj.Key) {
			s.logger.Debug().Str("key", obj.Key).Msg("Skipping object with unknown extension")
			continue
		}
		d, err := ParseArchiveDate(obj.Key)
		if err != nil {
			s.logger.Error().Err(err).Str("key", obj.Key).Msg("Unable to infer archive date")
		}
		archives = append(archives, Archive{Key: obj.Key, Size: obj.Size, Date: d})
		total += obj.Size
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].Key < archives[j].Key })

	s.logger.Info().Str("prefix", prefix).Int("archive_count", len(archives)).Int64("total_bytes", total).Msg("Listed archives")
	return archives, total, nil
}

// Fetch downloads the archive into the work directory and returns the local path.
// The caller owns the file and must Release it.
func (s *Source) Fetch(ctx context.Context, a Archive) (string, error) {
	local := filepath.Join(s.workDir, path.Base(a.Key))
	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("failed to create local copy of %s: %w", a.Key, err)
	}
	n, err := s.store.Download(ctx, a.Key, f)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.Release(local)
		return "", fmt.Errorf("failed to fetch %s: %w", a.Key, err)
	}
	s.logger.Debug().Str("archive", a.Key).Int64("bytes", n).Msg("Fetched archive")
	return local, nil
}

// Release deletes a local archive copy.
func (s *Source) Release(local string) {
	if err := os.Remove(local); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).Str("path", local).Msg("Failed to delete local archive copy")
	}
}
