// Package config provides the configuration structures of chunkflow and their loading.
package config

// EmbeddedConfig holds the content of the configuration file, typically embedded in main.go.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelTrace  LogLevel = "TRACE"
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// Task executors selectable with batch.task_executor.
const (
	TaskExecutorSync       = "sync"
	TaskExecutorGoroutine  = "goroutine"
	TaskExecutorWorkerPool = "worker_pool"
)

// Job repository implementations selectable with infrastructure.job_repository_type.
const (
	JobRepositoryInMemory = "inmemory"
	JobRepositorySQL      = "sql"
)

// RetryConfig holds the retry settings applied to failed tasklet invocations.
type RetryConfig struct {
	MaxAttempts         int      `yaml:"max_attempts"`         // MaxAttempts is the number of retries after the first failure. 0 disables retry.
	InitialInterval     int      `yaml:"initial_interval"`     // InitialInterval is the first backoff in milliseconds.
	MaxInterval         int      `yaml:"max_interval"`         // MaxInterval caps the backoff in milliseconds.
	Factor              float64  `yaml:"factor"`               // Factor is the backoff multiplier.
	RetryableExceptions []string `yaml:"retryable_exceptions"` // RetryableExceptions lists registered error type names.
}

// SkipConfig holds the settings gating recovery and skip of failed invocations.
type SkipConfig struct {
	SkipLimit           int      `yaml:"skip_limit"`           // SkipLimit is the maximum number of skips per step. 0 leaves recovery to the tasklet.
	SkippableExceptions []string `yaml:"skippable_exceptions"` // SkippableExceptions lists registered error type names.
}

// ExceptionHandlerConfig selects the exception handler of the chunk loop.
type ExceptionHandlerConfig struct {
	// Type is one of "default", "simple_limit" or "log_or_rethrow".
	Type string `yaml:"type"`
	// Limit is the tolerated number of errors for "simple_limit".
	Limit int `yaml:"limit"`
	// ExceptionTypes restricts "simple_limit" to these registered error types.
	ExceptionTypes []string `yaml:"exception_types"`
	// Classification maps error type names to "DEBUG", "WARN", "ERROR" or "RETHROW" for "log_or_rethrow".
	Classification map[string]string `yaml:"classification"`
}

// BatchConfig holds the settings of the step execution loop.
type BatchConfig struct {
	// CommitInterval is the number of tasklet invocations per chunk transaction.
	CommitInterval int `yaml:"commit_interval"`
	// ThrottleLimit is the maximum number of concurrent invocations inside a chunk.
	ThrottleLimit int `yaml:"throttle_limit"`
	// TaskExecutor is "sync", "goroutine" or "worker_pool". Anything but "sync" enables the throttled chunk loop.
	TaskExecutor string `yaml:"task_executor"`
	// WorkerPoolSize is the number of workers of the "worker_pool" executor.
	WorkerPoolSize int `yaml:"worker_pool_size"`
	// SaveRestartData enables saving restart data after every chunk. Defaults to true.
	SaveRestartData *bool `yaml:"save_restart_data"`
	// IsolationLevel is the isolation level of chunk transactions (e.g. "READ_COMMITTED").
	IsolationLevel string `yaml:"isolation_level"`
	// Retry is the retry configuration.
	Retry RetryConfig `yaml:"retry"`
	// Skip is the recovery/skip configuration.
	Skip SkipConfig `yaml:"skip"`
	// ExceptionHandler selects the chunk loop exception handler.
	ExceptionHandler ExceptionHandlerConfig `yaml:"exception_handler"`
	// MetricsAsyncBufferSize is the buffer size for asynchronous metric recording.
	MetricsAsyncBufferSize int `yaml:"metrics_async_buffer_size"`
	// Listeners names the registered listener builders attached to every step (e.g. "logging", "metrics").
	Listeners []string `yaml:"listeners"`
}

// IsSaveRestartData reports whether restart data is saved, defaulting to true.
func (b BatchConfig) IsSaveRestartData() bool {
	return b.SaveRestartData == nil || *b.SaveRestartData
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG", "TRACE").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// InfrastructureConfig holds the choice of infrastructure components.
type InfrastructureConfig struct {
	// JobRepositoryType is "inmemory" or "sql".
	JobRepositoryType string `yaml:"job_repository_type"`
	// JobRepositoryDBRef is the name of the database connection used by the sql JobRepository.
	JobRepositoryDBRef string `yaml:"job_repository_db_ref"`
	// MigrateOnStart applies the metadata schema migrations when the application starts.
	MigrateOnStart bool `yaml:"migrate_on_start"`
}

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string     `yaml:"type"`             // Database type ("postgres", "mysql", "sqlite").
	Host     string     `yaml:"host"`             // Database host address.
	Port     int        `yaml:"port"`             // Database port number.
	Database string     `yaml:"database"`         // Database name, or file path for sqlite.
	User     string     `yaml:"user"`             // Database user.
	Password string     `yaml:"password"`         // Database password.
	Schema   string     `yaml:"schema,omitempty"` // Schema name for PostgreSQL.
	Sslmode  string     `yaml:"sslmode"`          // SSL mode for the connection.
	Pool     PoolConfig `yaml:"pool"`             // Connection pool settings.
}

// PrometheusConfig enables the Prometheus metric recorder.
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
	// ListenAddress serves /metrics on this address (e.g. ":9090") while the application runs. Empty disables it.
	ListenAddress string `yaml:"listen_address"`
}

// OTLPConfig configures the OpenTelemetry exporters.
type OTLPConfig struct {
	// Enabled turns on the OpenTelemetry tracer and metric recorder.
	Enabled bool `yaml:"enabled"`
	// Protocol is "http" or "grpc".
	Protocol string `yaml:"protocol"`
	// Endpoint is the collector endpoint (host:port). Empty uses the exporter's default.
	Endpoint string `yaml:"endpoint"`
	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`
}

// ObservabilityConfig holds metrics and tracing settings.
type ObservabilityConfig struct {
	// ServiceName is reported as the OpenTelemetry service name.
	ServiceName string           `yaml:"service_name"`
	Prometheus  PrometheusConfig `yaml:"prometheus"`
	OTLP        OTLPConfig       `yaml:"otlp"`
	// AsyncMetrics records metrics through a buffered background worker.
	AsyncMetrics bool `yaml:"async_metrics"`
}

// ChunkflowConfig holds all configuration under the "chunkflow" top-level key.
type ChunkflowConfig struct {
	// Batch contains the step execution loop settings.
	Batch BatchConfig `yaml:"batch"`
	// System contains system-wide configurations.
	System SystemConfig `yaml:"system"`
	// Infrastructure contains infrastructure-related configurations.
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	// Database holds named database connections.
	Database map[string]DatabaseConfig `yaml:"database"`
	// Observability contains metrics and tracing settings.
	Observability ObservabilityConfig `yaml:"observability"`
	// Steps holds free-form properties per step name, bound into tasklets with configbinder.
	Steps map[string]map[string]interface{} `yaml:"steps"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Chunkflow ChunkflowConfig `yaml:"chunkflow"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Chunkflow: ChunkflowConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Batch: BatchConfig{
				CommitInterval:         5,
				ThrottleLimit:          4,
				TaskExecutor:           TaskExecutorSync,
				WorkerPoolSize:         4,
				MetricsAsyncBufferSize: 100,
				ExceptionHandler:       ExceptionHandlerConfig{Type: "default"},
				Retry: RetryConfig{
					InitialInterval: 1000,
					MaxInterval:     30000,
					Factor:          2.0,
				},
			},
			Infrastructure: InfrastructureConfig{
				JobRepositoryType:  JobRepositoryInMemory,
				JobRepositoryDBRef: "metadata",
			},
			Observability: ObservabilityConfig{
				ServiceName: "chunkflow",
				OTLP:        OTLPConfig{Protocol: "http"},
			},
			Database: map[string]DatabaseConfig{},
			Steps:    map[string]map[string]interface{}{},
		},
	}
}

// StepProperties returns the properties configured for a step, or an empty map.
func (c *Config) StepProperties(stepName string) map[string]interface{} {
	if props, ok := c.Chunkflow.Steps[stepName]; ok && props != nil {
		return props
	}
	return map[string]interface{}{}
}
