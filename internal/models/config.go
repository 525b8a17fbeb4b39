package models

// ProjectConfig is the top-level configuration for s2ingest
type ProjectConfig struct {
	Release  ReleaseConfig  `yaml:"release" json:"release"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Retry    RetryConfig    `yaml:"retry" json:"retry"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	RunsDir  string         `yaml:"runs_dir" json:"runs_dir"`
}

// ReleaseConfig contains the manifest API location and credential
type ReleaseConfig struct {
	APIURL         string `yaml:"api_url" json:"api_url"`
	APIKey         string `yaml:"api_key" json:"-"` // never persisted with run state
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// StorageConfig describes where run output is written.
// Root is either "s3://bucket/prefix" or a local directory.
type StorageConfig struct {
	Root     string `yaml:"root" json:"root"`
	Region   string `yaml:"region" json:"region"`
	Endpoint string `yaml:"endpoint" json:"endpoint"` // S3-compatible endpoint override
}

// PipelineConfig controls batching and worker resources
type PipelineConfig struct {
	DatasetTypes       []DatasetType `yaml:"dataset_types" json:"dataset_types"`
	BatchSize          int           `yaml:"batch_size" json:"batch_size"`
	DownloadChunkBytes int           `yaml:"download_chunk_bytes" json:"download_chunk_bytes"`
	MaxLineBytes       int           `yaml:"max_line_bytes" json:"max_line_bytes"`
	WorkerMemoryMB     int           `yaml:"worker_memory_mb" json:"worker_memory_mb"`
	MaxWorkers         int           `yaml:"max_workers" json:"max_workers"` // 0 = derived from available memory
	TempDir            string        `yaml:"temp_dir" json:"temp_dir"`
	StrictPartitionKey bool          `yaml:"strict_partition_key" json:"strict_partition_key"`
}

// RetryConfig controls transport-level retry of manifest requests
type RetryConfig struct {
	MaxAttempts      int   `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoffMs int64 `yaml:"initial_backoff_ms" json:"initial_backoff_ms"`
	MaxBackoffMs     int64 `yaml:"max_backoff_ms" json:"max_backoff_ms"`
}

// LoggingConfig controls log level and the optional JSON log file
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// DefaultReleaseAPIURL is the public S2AG datasets endpoint
const DefaultReleaseAPIURL = "https://api.semanticscholar.org/datasets/v1/release"

// DefaultConfig returns a sensible default configuration
func DefaultConfig() ProjectConfig {
	return ProjectConfig{
		Release: ReleaseConfig{
			APIURL:         DefaultReleaseAPIURL,
			TimeoutSeconds: 60,
		},
		Storage: StorageConfig{
			Root:   "./output",
			Region: "us-east-1",
		},
		Pipeline: PipelineConfig{
			DatasetTypes:       append([]DatasetType(nil), DefaultDatasetTypes...),
			BatchSize:          500_000,
			DownloadChunkBytes: 16 * 1024,
			MaxLineBytes:       16 * 1024 * 1024,
			WorkerMemoryMB:     5000,
		},
		Retry: RetryConfig{
			MaxAttempts:      5,
			InitialBackoffMs: 1000,
			MaxBackoffMs:     30000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		RunsDir: "./runs",
	}
}
