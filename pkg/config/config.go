package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
)

// DayLayout is the format of the day being reprocessed.
const DayLayout = "2006-01-02"

var (
	// ErrMissingSetting is returned when a required setting has no value.
	ErrMissingSetting = errors.New("missing required setting")
	// ErrInvalidSetting is returned when a setting has a value outside its domain.
	ErrInvalidSetting = errors.New("invalid setting")
)

// Dedup backends.
const (
	DedupMemory = "memory"
	DedupRedis  = "redis"
)

// Log formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// RunConfig holds everything one reprocessing run needs. The string fields are what
// the user supplies; Validate parses them into the typed fields below.
type RunConfig struct {
	Source       string `mapstructure:"source"`
	Destination  string `mapstructure:"destination"`
	Day          string `mapstructure:"day"`
	IndexMode    string `mapstructure:"index_mode"`
	AnalysisMode string `mapstructure:"analysis_mode"`
	PublishMode  string `mapstructure:"publish_mode"`

	// DBURI selects the table backend: postgres://, postgresql:// or bigquery://.
	DBURI string `mapstructure:"db_uri"`
	// ScorerURL is the scoring endpoint. When empty every measurement gets empty scores.
	ScorerURL string `mapstructure:"scorer_url"`
	WorkDir   string `mapstructure:"work_dir"`
	// ShardThreshold is the uncompressed size in bytes after which a shard is finalized.
	ShardThreshold int64 `mapstructure:"shard_threshold"`
	// AnalysisBatchSize is the number of analysis rows per table write (1000 when 0).
	AnalysisBatchSize int `mapstructure:"analysis_batch_size"`

	Dedup         string `mapstructure:"dedup"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Region    string `mapstructure:"s3_region"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	// GCSCredentialsFile authenticates the destination when it is a GCS bucket.
	GCSCredentialsFile string `mapstructure:"gcs_credentials_file"`

	PushGateway string `mapstructure:"push_gateway"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Date           time.Time           `mapstructure:"-"`
	IndexPolicy    types.WritePolicy   `mapstructure:"-"`
	AnalysisPolicy types.WritePolicy   `mapstructure:"-"`
	PublishPolicy  types.PublishPolicy `mapstructure:"-"`
	Level          zerolog.Level       `mapstructure:"-"`
}

// Validate checks the configuration and fills the typed fields. It must succeed
// before anything touches storage.
func (c *RunConfig) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("%w: source store", ErrMissingSetting)
	}
	if c.Destination == "" {
		return fmt.Errorf("%w: destination store", ErrMissingSetting)
	}
	if c.Day == "" {
		return fmt.Errorf("%w: day", ErrMissingSetting)
	}
	day, err := time.Parse(DayLayout, c.Day)
	if err != nil {
		return fmt.Errorf("%w: day %q is not YYYY-MM-DD", ErrInvalidSetting, c.Day)
	}
	c.Date = day

	if c.IndexPolicy, err = types.ParseWritePolicy(c.IndexMode); err != nil {
		return fmt.Errorf("index mode: %w", err)
	}
	if c.AnalysisPolicy, err = types.ParseWritePolicy(c.AnalysisMode); err != nil {
		return fmt.Errorf("analysis mode: %w", err)
	}
	if c.PublishPolicy, err = types.ParsePublishPolicy(c.PublishMode); err != nil {
		return fmt.Errorf("publish mode: %w", err)
	}
	if c.NeedsDatabase() && c.DBURI == "" {
		return fmt.Errorf("%w: db uri is required when index or analysis writes are enabled", ErrMissingSetting)
	}

	switch strings.ToLower(c.Dedup) {
	case "", DedupMemory:
		c.Dedup = DedupMemory
	case DedupRedis:
		c.Dedup = DedupRedis
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis address for the redis dedup backend", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: dedup backend %q (want memory or redis)", ErrInvalidSetting, c.Dedup)
	}

	if c.ShardThreshold < 0 {
		return fmt.Errorf("%w: shard threshold %d", ErrInvalidSetting, c.ShardThreshold)
	}
	if c.AnalysisBatchSize < 0 {
		return fmt.Errorf("%w: analysis batch size %d", ErrInvalidSetting, c.AnalysisBatchSize)
	}

	if c.LogLevel == "" {
		c.Level = zerolog.InfoLevel
	} else if c.Level, err = zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalidSetting, c.LogLevel)
	}
	switch c.LogFormat {
	case "", LogFormatConsole, LogFormatJSON:
	default:
		return fmt.Errorf("%w: log format %q (want console or json)", ErrInvalidSetting, c.LogFormat)
	}
	return nil
}

// NeedsDatabase reports whether any table write is enabled.
func (c *RunConfig) NeedsDatabase() bool {
	return c.IndexPolicy != types.PolicySkip || c.AnalysisPolicy != types.PolicySkip
}

// DayKey returns the day as used in log fields and dedup keys.
func (c *RunConfig) DayKey() string {
	return c.Date.Format(DayLayout)
}
