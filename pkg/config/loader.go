package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix  = "REPROCESSOR"
	configType = "yaml"
)

// Flag names. Each maps to the RunConfig key with dashes replaced by underscores.
const (
	FlagDay            = "day"
	FlagIndexMode      = "index-mode"
	FlagAnalysisMode   = "analysis-mode"
	FlagPublishMode    = "publish-mode"
	FlagDBURI          = "db-uri"
	FlagScorerURL      = "scorer-url"
	FlagWorkDir        = "work-dir"
	FlagShardThreshold = "shard-threshold"
	FlagAnalysisBatch  = "analysis-batch-size"
	FlagDedup          = "dedup"
	FlagRedisAddr      = "redis-addr"
	FlagS3Endpoint     = "s3-endpoint"
	FlagS3Region       = "s3-region"
	FlagGCSCredentials = "gcs-credentials-file"
	FlagPushGateway    = "push-gateway"
	FlagLogLevel       = "log-level"
	FlagLogFormat      = "log-format"
	FlagConfig         = "config"
)

// AddFlags registers the run flags on cmd.
func AddFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String(FlagConfig, "", "optional YAML config file")
	f.String(FlagDay, "", "day to reprocess (YYYY-MM-DD)")
	f.String(FlagIndexMode, "skip", "index table write policy: skip, insert or merge")
	f.String(FlagAnalysisMode, "skip", "analysis table write policy: skip, insert or merge")
	f.String(FlagPublishMode, "verify-only", "shard publishing: dry-run, verify-only, create or create-if-missing")
	f.String(FlagDBURI, "", "database URI: postgres://... or bigquery://PROJECT/DATASET")
	f.String(FlagScorerURL, "", "scoring service endpoint (empty scores when unset)")
	f.String(FlagWorkDir, "", "local scratch directory (system temp dir when unset)")
	f.Int64(FlagShardThreshold, 0, "uncompressed shard size in bytes that triggers finalization (20 MiB when 0)")
	f.Int(FlagAnalysisBatch, 0, "analysis rows per table write (1000 when 0)")
	f.String(FlagDedup, DedupMemory, "dedup backend: memory or redis")
	f.String(FlagRedisAddr, "", "redis address for the redis dedup backend")
	f.String(FlagS3Endpoint, "", "S3-compatible endpoint")
	f.String(FlagS3Region, "", "S3 region")
	f.String(FlagGCSCredentials, "", "credentials file for a GCS destination")
	f.String(FlagPushGateway, "", "Prometheus Pushgateway URL for run metrics")
	f.String(FlagLogLevel, "info", "log level")
	f.String(FlagLogFormat, LogFormatConsole, "log format: console or json")
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("index_mode", "skip")
	v.SetDefault("analysis_mode", "skip")
	v.SetDefault("publish_mode", "verify-only")
	v.SetDefault("dedup", DedupMemory)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", LogFormatConsole)

	// Secrets have no flags; registering them lets REPROCESSOR_* variables reach Unmarshal.
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
}

// Load resolves the run configuration from defaults, an optional YAML file, REPROCESSOR_*
// environment variables and the flags of cmd, later sources winning. args are the
// positional SRC and DST arguments. The result is validated.
func Load(cmd *cobra.Command, args []string) (*RunConfig, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		var bindErr error
		cmd.Flags().VisitAll(func(fl *pflag.Flag) {
			if fl.Name == FlagConfig {
				return
			}
			key := strings.ReplaceAll(fl.Name, "-", "_")
			bindErr = errors.Join(bindErr, v.BindPFlag(key, fl))
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
		if path, _ := cmd.Flags().GetString(FlagConfig); path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if len(args) > 0 {
		v.Set("source", args[0])
	}
	if len(args) > 1 {
		v.Set("destination", args[1])
	}

	var cfg RunConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
