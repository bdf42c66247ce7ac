package objectstore

import (
	"context"
	"errors"
	"io"
)

// ====================================================================================
// This file defines the provider-neutral object store used both for reading legacy
// archives and for publishing shards. GCS, S3 and a local directory implement it.
// ====================================================================================

// ErrObjectNotExist is returned by Stat when the key is absent from the bucket.
var ErrObjectNotExist = errors.New("object does not exist")

// ObjectAttrs are the attributes of a stored object that the pipeline relies on.
type ObjectAttrs struct {
	Key  string
	Size int64
}

// ObjectStore is a single bucket in some object storage provider.
type ObjectStore interface {
	// List returns every object whose key starts with prefix, in provider order.
	List(ctx context.Context, prefix string) ([]ObjectAttrs, error)
	// Stat returns the attributes of one object, or ErrObjectNotExist.
	Stat(ctx context.Context, key string) (ObjectAttrs, error)
	// Download streams the object body into w.
	Download(ctx context.Context, key string, w io.Writer) (int64, error)
	// Upload stores the content of r under key, replacing any existing object.
	Upload(ctx context.Context, key string, r io.Reader) (int64, error)
	// Close releases the underlying client.
	Close() error
}
