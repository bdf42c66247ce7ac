package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// Options configure the client built by Open.
type Options struct {
	// ReadOnly opens the store without credentials (anonymous S3, unauthenticated GCS).
	ReadOnly bool
	S3       S3ClientConfig
	// GCSCredentialsFile is optional; Application Default Credentials are used otherwise.
	GCSCredentialsFile string
}

// Location is a parsed store URL.
type Location struct {
	Scheme string
	Bucket string
	// Path is the local directory for file stores.
	Path string
}

// ParseLocation accepts s3://bucket, gs://bucket, file:///dir or a bare bucket name,
// which is treated as S3.
func ParseLocation(raw string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("empty store location")
	}
	if !strings.Contains(raw, "://") {
		return Location{Scheme: "s3", Bucket: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid store location %q: %w", raw, err)
	}
	switch u.Scheme {
	case "s3", "gs":
		if u.Host == "" {
			return Location{}, fmt.Errorf("store location %q has no bucket", raw)
		}
		return Location{Scheme: u.Scheme, Bucket: u.Host}, nil
	case "file":
		p := u.Path
		if u.Host != "" {
			p = u.Host + p
		}
		if p == "" {
			return Location{}, fmt.Errorf("store location %q has no path", raw)
		}
		return Location{Scheme: "file", Path: p}, nil
	default:
		return Location{}, fmt.Errorf("unsupported store scheme %q in %q", u.Scheme, raw)
	}
}

func (l Location) String() string {
	if l.Scheme == "file" {
		return "file://" + l.Path
	}
	return l.Scheme + "://" + l.Bucket
}

// Open builds the ObjectStore for a location.
func Open(ctx context.Context, loc Location, opts Options, logger zerolog.Logger) (ObjectStore, error) {
	switch loc.Scheme {
	case "s3":
		cfg := opts.S3
		cfg.Anonymous = cfg.Anonymous || opts.ReadOnly
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, loc.Bucket, logger)
	case "gs":
		var clientOpts []option.ClientOption
		switch {
		case opts.ReadOnly:
			clientOpts = append(clientOpts, option.WithoutAuthentication())
		case opts.GCSCredentialsFile != "":
			clientOpts = append(clientOpts, option.WithCredentialsFile(opts.GCSCredentialsFile))
		}
		client, err := NewGoogleGCSClient(ctx, clientOpts...)
		if err != nil {
			return nil, err
		}
		return NewGCSStore(client, loc.Bucket, logger)
	case "file":
		return NewFileStore(loc.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", loc.Scheme)
	}
}
