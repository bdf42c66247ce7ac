package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// FileStore implements ObjectStore on a local directory. Keys are slash separated
// paths relative to the root. It serves local runs and tests.
type FileStore struct {
	root   string
	logger zerolog.Logger
}

// NewFileStore creates a store rooted at dir, creating the directory if needed.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store root is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create file store root %s: %w", dir, err)
	}
	return &FileStore{
		root:   dir,
		logger: logger.With().Str("component", "FileStore").Str("root", dir).Logger(),
	}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FileStore) List(ctx context.Context, prefix string) ([]ObjectAttrs, error) {
	var objects []ObjectAttrs
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectAttrs{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s under %s: %w", prefix, s.root, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *FileStore) Stat(_ context.Context, key string) (ObjectAttrs, error) {
	info, err := os.Stat(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectAttrs{}, fmt.Errorf("%s: %w", key, ErrObjectNotExist)
		}
		return ObjectAttrs{}, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return ObjectAttrs{Key: key, Size: info.Size()}, nil
}

func (s *FileStore) Download(_ context.Context, key string, w io.Writer) (int64, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%s: %w", key, ErrObjectNotExist)
		}
		return 0, fmt.Errorf("failed to open %s: %w", key, err)
	}
	defer f.Close()
	return io.Copy(w, f)
}

// Upload writes to a temporary file in the destination directory and renames it
// into place, so readers never observe a partial object.
func (s *FileStore) Upload(_ context.Context, key string, r io.Reader) (int64, error) {
	dest := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("failed to write %s: %w", key, errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("failed to move %s into place: %w", key, err)
	}
	s.logger.Debug().Str("object_name", key).Int64("bytes_written", n).Msg("Stored object")
	return n, nil
}

func (s *FileStore) Close() error {
	return nil
}
