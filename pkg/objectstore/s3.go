package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

const defaultS3Region = "us-east-1"

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ClientConfig holds what is needed to build an S3 client.
type S3ClientConfig struct {
	Region string
	// Endpoint targets an S3-compatible service instead of AWS; path-style
	// addressing is enabled when it is set.
	Endpoint string
	// Anonymous builds an unsigned client, enough for public source buckets.
	Anonymous    bool
	AccessKey    string
	SecretKey    string
	SessionToken string
}

// NewS3Client creates a signed (or anonymous) S3 client.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = defaultS3Region
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	switch {
	case cfg.Anonymous:
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	case cfg.AccessKey != "" && cfg.SecretKey != "":
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config, %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Store implements ObjectStore on a single S3 bucket.
type S3Store struct {
	client S3API
	bucket string
	logger zerolog.Logger
}

// NewS3Store creates a store for bucket using an existing client.
func NewS3Store(client S3API, bucket string, logger zerolog.Logger) (*S3Store, error) {
	if client == nil {
		return nil, errors.New("S3 client cannot be nil")
	}
	if bucket == "" {
		return nil, errors.New("S3 bucket name is required")
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("component", "S3Store").Str("bucket", bucket).Logger(),
	}, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectAttrs, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []ObjectAttrs
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get page of S3 objects, %w", err)
		}
		for _, object := range output.Contents {
			objects = append(objects, ObjectAttrs{
				Key:  aws.ToString(object.Key),
				Size: aws.ToInt64(object.Size),
			})
		}
	}
	s.logger.Debug().Str("prefix", prefix).Int("object_count", len(objects)).Msg("Listed objects")
	return objects, nil
}

func (s *S3Store) Stat(ctx context.Context, key string) (ObjectAttrs, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ObjectAttrs{}, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrObjectNotExist)
		}
		return ObjectAttrs{}, fmt.Errorf("failed to head s3://%s/%s: %w", s.bucket, key, err)
	}
	return ObjectAttrs{Key: key, Size: aws.ToInt64(out.ContentLength)}, nil
}

func (s *S3Store) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return 0, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrObjectNotExist)
		}
		return 0, fmt.Errorf("failed to download artifact, %w", err)
	}
	defer out.Body.Close()

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return n, fmt.Errorf("failed to write data for s3://%s/%s, %w", s.bucket, key, err)
	}
	return n, nil
}

// Upload puts r under key. Callers should pass a seekable reader (an *os.File) so
// the SDK can compute the payload checksum and content length.
func (s *S3Store) Upload(ctx context.Context, key string, r io.Reader) (int64, error) {
	counter := &countingReader{r: r}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bodyFor(r, counter),
	})
	if err != nil {
		return counter.n, fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}
	s.logger.Info().Str("object_name", key).Int64("bytes_written", counter.n).Msg("Uploaded object to S3")
	return counter.n, nil
}

func (s *S3Store) Close() error {
	return nil
}

func isS3NotFound(err error) bool {
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}

// countingReader counts bytes read by the SDK. When the source is seekable the
// seekingCounter variant is handed to the SDK so it can still rewind the body.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type seekingCounter struct {
	*countingReader
	s io.Seeker
}

func (c seekingCounter) Seek(offset int64, whence int) (int64, error) {
	pos, err := c.s.Seek(offset, whence)
	if err == nil {
		c.n = pos
	}
	return pos, err
}

func bodyFor(r io.Reader, c *countingReader) io.Reader {
	if seeker, ok := r.(io.Seeker); ok {
		return seekingCounter{countingReader: c, s: seeker}
	}
	return c
}
