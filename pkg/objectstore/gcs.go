package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ====================================================================================
// This file adapts Google Cloud Storage to the ObjectStore interface. The concrete
// client sits behind a small set of interfaces so GCSStore can be tested without a
// real GCS client.
// ====================================================================================

// --- GCS Client Abstraction Interfaces ---

// GCSClient abstracts the top-level GCS client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
	Close() error
}

// GCSBucketHandle abstracts a GCS bucket.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
	Objects(ctx context.Context, q *storage.Query) GCSObjectIterator
}

// GCSObjectHandle abstracts a GCS object.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context) GCSWriter
	NewReader(ctx context.Context) (io.ReadCloser, error)
	Attrs(ctx context.Context) (*storage.ObjectAttrs, error)
}

// GCSObjectIterator abstracts *storage.ObjectIterator.
type GCSObjectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

// GCSWriter abstracts a GCS object writer. It must satisfy the io.WriteCloser interface.
type GCSWriter interface {
	io.WriteCloser
}

// --- Adapters to wrap the concrete Google Cloud Storage client ---

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes the concrete *storage.Client conform to GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

func (a *gcsClientAdapter) Close() error {
	return a.client.Close()
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

func (a *gcsBucketHandleAdapter) Objects(ctx context.Context, q *storage.Query) GCSObjectIterator {
	return a.handle.Objects(ctx, q)
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context) GCSWriter {
	return a.handle.NewWriter(ctx)
}

func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return a.handle.NewReader(ctx)
}

func (a *gcsObjectHandleAdapter) Attrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	return a.handle.Attrs(ctx)
}

// NewGoogleGCSClient creates a real GCS client. STORAGE_EMULATOR_HOST is honoured by
// the underlying library.
func NewGoogleGCSClient(ctx context.Context, clientOpts ...option.ClientOption) (GCSClient, error) {
	realClient, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return NewGCSClientAdapter(realClient), nil
}

// GCSStore implements ObjectStore on a single GCS bucket.
type GCSStore struct {
	client GCSClient
	bucket string
	logger zerolog.Logger
}

// NewGCSStore creates a store for bucket using an existing client.
func NewGCSStore(client GCSClient, bucket string, logger zerolog.Logger) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if bucket == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSStore{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("component", "GCSStore").Str("bucket", bucket).Logger(),
	}, nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]ObjectAttrs, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var objects []ObjectAttrs
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", s.bucket, prefix, err)
		}
		objects = append(objects, ObjectAttrs{Key: attrs.Name, Size: attrs.Size})
	}
	s.logger.Debug().Str("prefix", prefix).Int("object_count", len(objects)).Msg("Listed objects")
	return objects, nil
}

func (s *GCSStore) Stat(ctx context.Context, key string) (ObjectAttrs, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if isGCSNotFound(err) {
			return ObjectAttrs{}, fmt.Errorf("gs://%s/%s: %w", s.bucket, key, ErrObjectNotExist)
		}
		return ObjectAttrs{}, fmt.Errorf("failed to get attributes of gs://%s/%s: %w", s.bucket, key, err)
	}
	return ObjectAttrs{Key: attrs.Name, Size: attrs.Size}, nil
}

func (s *GCSStore) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if isGCSNotFound(err) {
			return 0, fmt.Errorf("gs://%s/%s: %w", s.bucket, key, ErrObjectNotExist)
		}
		return 0, fmt.Errorf("failed to open gs://%s/%s: %w", s.bucket, key, err)
	}
	defer r.Close()

	n, err := io.Copy(w, r)
	if err != nil {
		return n, fmt.Errorf("failed to read gs://%s/%s: %w", s.bucket, key, err)
	}
	return n, nil
}

func (s *GCSStore) Upload(ctx context.Context, key string, r io.Reader) (int64, error) {
	gcsWriter := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)

	bytesWritten, copyErr := io.Copy(gcsWriter, r)
	closeErr := gcsWriter.Close()

	if copyErr != nil {
		return bytesWritten, fmt.Errorf("failed to stream data for GCS object %s: %w", key, copyErr)
	}
	if closeErr != nil {
		return bytesWritten, fmt.Errorf("failed to close GCS object writer for %s: %w", key, closeErr)
	}

	s.logger.Info().Str("object_name", key).Int64("bytes_written", bytesWritten).Msg("Uploaded object to GCS")
	return bytesWritten, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// isGCSNotFound also accepts a bare 404, which some GCS-compatible servers return
// instead of the library's sentinel.
func isGCSNotFound(err error) bool {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return true
	}
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
