package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/trobanga/s2ingest/internal/lib"
	"github.com/trobanga/s2ingest/internal/models"
)

// APIKeyEnv is the conventional environment variable for the S2AG credential
const APIKeyEnv = "S2AG_API_KEY"

// LoadConfig loads configuration from file and merges with CLI flags using
// the global viper instance.
// Priority order (highest to lowest):
//  1. CLI flags (via viper bindings)
//  2. Environment variables (S2INGEST_*, plus S2AG_API_KEY)
//  3. Configuration file
//  4. Default values
func LoadConfig(configFile string) (*models.ProjectConfig, error) {
	return LoadConfigWith(viper.GetViper(), configFile)
}

// LoadConfigWith loads configuration through the given viper instance
func LoadConfigWith(v *viper.Viper, configFile string) (*models.ProjectConfig, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("s2ingest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/s2ingest")
		v.AddConfigPath("/etc/s2ingest")
	}

	v.SetEnvPrefix("S2INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("release.api_key", "S2INGEST_RELEASE_API_KEY", APIKeyEnv); err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", APIKeyEnv, err)
	}

	setDefaults(v)

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Build config manually from viper values
	config := models.ProjectConfig{
		Release: models.ReleaseConfig{
			APIURL:         v.GetString("release.api_url"),
			APIKey:         v.GetString("release.api_key"),
			TimeoutSeconds: v.GetInt("release.timeout_seconds"),
		},
		Storage: models.StorageConfig{
			Root:     v.GetString("storage.root"),
			Region:   v.GetString("storage.region"),
			Endpoint: v.GetString("storage.endpoint"),
		},
		Pipeline: models.PipelineConfig{
			DatasetTypes:       models.ParseDatasetTypes(v.GetStringSlice("pipeline.dataset_types")),
			BatchSize:          v.GetInt("pipeline.batch_size"),
			DownloadChunkBytes: v.GetInt("pipeline.download_chunk_bytes"),
			MaxLineBytes:       v.GetInt("pipeline.max_line_bytes"),
			WorkerMemoryMB:     v.GetInt("pipeline.worker_memory_mb"),
			MaxWorkers:         v.GetInt("pipeline.max_workers"),
			TempDir:            v.GetString("pipeline.temp_dir"),
			StrictPartitionKey: v.GetBool("pipeline.strict_partition_key"),
		},
		Retry: models.RetryConfig{
			MaxAttempts:      v.GetInt("retry.max_attempts"),
			InitialBackoffMs: v.GetInt64("retry.initial_backoff_ms"),
			MaxBackoffMs:     v.GetInt64("retry.max_backoff_ms"),
		},
		Logging: models.LoggingConfig{
			Level: strings.ToLower(v.GetString("logging.level")),
			File:  v.GetString("logging.file"),
		},
		Metrics: models.MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
		RunsDir: v.GetString("runs_dir"),
	}

	if err := config.Validate(); err != nil {
		return nil, lib.ErrInvalidConfig("configuration", err.Error())
	}

	if err := models.ValidateRunsDir(config.RunsDir); err != nil {
		return nil, lib.ErrInvalidConfig("runs_dir", err.Error())
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	d := models.DefaultConfig()

	types := make([]string, len(d.Pipeline.DatasetTypes))
	for i, dt := range d.Pipeline.DatasetTypes {
		types[i] = string(dt)
	}

	v.SetDefault("release.api_url", d.Release.APIURL)
	v.SetDefault("release.timeout_seconds", d.Release.TimeoutSeconds)
	v.SetDefault("storage.root", d.Storage.Root)
	v.SetDefault("storage.region", d.Storage.Region)
	v.SetDefault("pipeline.dataset_types", types)
	v.SetDefault("pipeline.batch_size", d.Pipeline.BatchSize)
	v.SetDefault("pipeline.download_chunk_bytes", d.Pipeline.DownloadChunkBytes)
	v.SetDefault("pipeline.max_line_bytes", d.Pipeline.MaxLineBytes)
	v.SetDefault("pipeline.worker_memory_mb", d.Pipeline.WorkerMemoryMB)
	v.SetDefault("pipeline.max_workers", d.Pipeline.MaxWorkers)
	v.SetDefault("pipeline.strict_partition_key", d.Pipeline.StrictPartitionKey)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_backoff_ms", d.Retry.InitialBackoffMs)
	v.SetDefault("retry.max_backoff_ms", d.Retry.MaxBackoffMs)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("runs_dir", d.RunsDir)
}

// GetConfigFilePath returns the path to the config file that was loaded
func GetConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// BindFlagToConfig binds a CLI flag to a configuration key so that the flag,
// when set, overrides config file and environment values
func BindFlagToConfig(flag *pflag.Flag, configKey string) error {
	if flag == nil {
		return fmt.Errorf("no flag for config key %s", configKey)
	}
	return viper.BindPFlag(configKey, flag)
}
