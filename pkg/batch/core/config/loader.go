package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"

	"go.uber.org/fx"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string         `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
}

// loadConfig loads defaults, merges the embedded YAML over them and finally applies environment overrides.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	// Placeholders like ${DB_PASSWORD} are expanded before parsing.
	expanded, err := NewOsEnvironmentExpander().Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expand environment variables in embedded config", err, false, false)
	}

	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}
	mergeConfig(cfg, &yamlConfig)

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It also sets the global logger level and validates the configured exception names.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Chunkflow.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Chunkflow.System.Logging.Level)

	if err := Validate(cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid configuration", err, false, false)
	}
	return cfg, nil
}

// LoadConfig loads configuration from the embedded YAML, a .env file and environment variables.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// Validate checks value ranges and that configured exception names exist in the registry.
func Validate(cfg *Config) error {
	b := cfg.Chunkflow.Batch
	if b.CommitInterval <= 0 {
		return fmt.Errorf("batch.commit_interval must be positive, got %d", b.CommitInterval)
	}
	if b.ThrottleLimit <= 0 {
		return fmt.Errorf("batch.throttle_limit must be positive, got %d", b.ThrottleLimit)
	}
	switch b.TaskExecutor {
	case TaskExecutorSync, TaskExecutorGoroutine:
	case TaskExecutorWorkerPool:
		if b.WorkerPoolSize <= 0 {
			return fmt.Errorf("batch.worker_pool_size must be positive for the worker_pool executor, got %d", b.WorkerPoolSize)
		}
	default:
		return fmt.Errorf("unknown batch.task_executor: '%s'", b.TaskExecutor)
	}
	switch cfg.Chunkflow.Infrastructure.JobRepositoryType {
	case JobRepositoryInMemory:
	case JobRepositorySQL:
		ref := cfg.Chunkflow.Infrastructure.JobRepositoryDBRef
		if _, ok := cfg.Chunkflow.Database[ref]; !ok {
			return fmt.Errorf("infrastructure.job_repository_db_ref '%s' does not name a configured database", ref)
		}
	default:
		return fmt.Errorf("unknown infrastructure.job_repository_type: '%s'", cfg.Chunkflow.Infrastructure.JobRepositoryType)
	}

	if otlp := cfg.Chunkflow.Observability.OTLP; otlp.Enabled && otlp.Protocol != "http" && otlp.Protocol != "grpc" {
		return fmt.Errorf("unknown observability.otlp.protocol: '%s'", otlp.Protocol)
	}

	if err := checkExceptionClasses(b.Retry.RetryableExceptions, "Retry"); err != nil {
		return err
	}
	if err := checkExceptionClasses(b.Skip.SkippableExceptions, "Skip"); err != nil {
		return err
	}
	return checkExceptionClasses(b.ExceptionHandler.ExceptionTypes, "ExceptionHandler")
}

// mergeConfig copies every non-zero value of source over dest.
func mergeConfig(dest, source *Config) {
	mergeChunkflowConfig(&dest.Chunkflow, &source.Chunkflow)
}

func mergeChunkflowConfig(dest, source *ChunkflowConfig) {
	mergeBatchConfig(&dest.Batch, &source.Batch)
	mergeSystemConfig(&dest.System, &source.System)

	if source.Infrastructure.JobRepositoryType != "" {
		dest.Infrastructure.JobRepositoryType = source.Infrastructure.JobRepositoryType
	}
	if source.Infrastructure.JobRepositoryDBRef != "" {
		dest.Infrastructure.JobRepositoryDBRef = source.Infrastructure.JobRepositoryDBRef
	}
	if source.Infrastructure.MigrateOnStart {
		dest.Infrastructure.MigrateOnStart = true
	}

	if source.Observability.ServiceName != "" {
		dest.Observability.ServiceName = source.Observability.ServiceName
	}
	if source.Observability.Prometheus.Enabled {
		dest.Observability.Prometheus.Enabled = true
	}
	if source.Observability.Prometheus.ListenAddress != "" {
		dest.Observability.Prometheus.ListenAddress = source.Observability.Prometheus.ListenAddress
	}
	if source.Observability.AsyncMetrics {
		dest.Observability.AsyncMetrics = true
	}
	if source.Observability.OTLP.Enabled {
		dest.Observability.OTLP.Enabled = true
	}
	if source.Observability.OTLP.Protocol != "" {
		dest.Observability.OTLP.Protocol = source.Observability.OTLP.Protocol
	}
	if source.Observability.OTLP.Endpoint != "" {
		dest.Observability.OTLP.Endpoint = source.Observability.OTLP.Endpoint
	}
	if source.Observability.OTLP.Insecure {
		dest.Observability.OTLP.Insecure = true
	}

	if dest.Database == nil {
		dest.Database = make(map[string]DatabaseConfig)
	}
	for name, db := range source.Database {
		dest.Database[name] = db
	}
	if dest.Steps == nil {
		dest.Steps = make(map[string]map[string]interface{})
	}
	for name, props := range source.Steps {
		dest.Steps[name] = props
	}
}

func mergeBatchConfig(dest, source *BatchConfig) {
	if source.CommitInterval != 0 {
		dest.CommitInterval = source.CommitInterval
	}
	if source.ThrottleLimit != 0 {
		dest.ThrottleLimit = source.ThrottleLimit
	}
	if source.TaskExecutor != "" {
		dest.TaskExecutor = source.TaskExecutor
	}
	if source.WorkerPoolSize != 0 {
		dest.WorkerPoolSize = source.WorkerPoolSize
	}
	if source.SaveRestartData != nil {
		dest.SaveRestartData = source.SaveRestartData
	}
	if source.IsolationLevel != "" {
		dest.IsolationLevel = source.IsolationLevel
	}
	if source.MetricsAsyncBufferSize != 0 {
		dest.MetricsAsyncBufferSize = source.MetricsAsyncBufferSize
	}
	if source.Listeners != nil {
		dest.Listeners = source.Listeners
	}
	mergeRetryConfig(&dest.Retry, &source.Retry)
	mergeSkipConfig(&dest.Skip, &source.Skip)

	h := source.ExceptionHandler
	if h.Type != "" {
		dest.ExceptionHandler.Type = h.Type
	}
	if h.Limit != 0 {
		dest.ExceptionHandler.Limit = h.Limit
	}
	if h.ExceptionTypes != nil {
		dest.ExceptionHandler.ExceptionTypes = h.ExceptionTypes
	}
	if h.Classification != nil {
		dest.ExceptionHandler.Classification = h.Classification
	}
}

func mergeRetryConfig(dest, source *RetryConfig) {
	if source.MaxAttempts != 0 {
		dest.MaxAttempts = source.MaxAttempts
	}
	if source.InitialInterval != 0 {
		dest.InitialInterval = source.InitialInterval
	}
	if source.MaxInterval != 0 {
		dest.MaxInterval = source.MaxInterval
	}
	if source.Factor != 0 {
		dest.Factor = source.Factor
	}
	if source.RetryableExceptions != nil {
		dest.RetryableExceptions = source.RetryableExceptions
	}
}

func mergeSkipConfig(dest, source *SkipConfig) {
	if source.SkipLimit != 0 {
		dest.SkipLimit = source.SkipLimit
	}
	if source.SkippableExceptions != nil {
		dest.SkippableExceptions = source.SkippableExceptions
	}
}

func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
}

// checkExceptionClasses validates that all names are registered in the exception registry.
func checkExceptionClasses(classNames []string, configType string) error {
	for _, name := range classNames {
		if !exception.IsErrorTypeRegistered(name) {
			return fmt.Errorf("%s configuration references unknown exception class: '%s'. Ensure it is registered", configType, name)
		}
	}
	return nil
}

// loadStructFromEnv recursively overrides struct fields from environment variables named after the
// upper-cased "yaml" tags joined by "_" (e.g. CHUNKFLOW_BATCH_THROTTLE_LIMIT).
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		switch {
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		case field.Kind() == reflect.Map:
			// Only maps of structs (e.g. CHUNKFLOW_DATABASE_METADATA_HOST) can be addressed from the environment.
			if field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct {
				if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
					return err
				}
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv sets fields of map[string]struct values. For CHUNKFLOW_DATABASE_METADATA_HOST the map
// key is "metadata" and the field is the one tagged "host".
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	elemType := mapField.Type().Elem()

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndFieldParts := strings.Split(parts[0], "_")
		if len(keyAndFieldParts) < 2 {
			continue
		}
		mapKey := strings.ToLower(keyAndFieldParts[0])
		structFieldName := strings.Join(keyAndFieldParts[1:], "_")

		// Map values are not addressable; work on a copy and store it back.
		structVal := reflect.New(elemType).Elem()
		if existing := mapField.MapIndex(reflect.ValueOf(mapKey)); existing.IsValid() {
			structVal.Set(existing)
		}
		if err := setStructFieldFromEnv(structVal, structFieldName, parts[1]); err != nil {
			return err
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), structVal)
	}
	return nil
}

// setStructFieldFromEnv sets the field whose yaml tag matches fieldName case-insensitively.
func setStructFieldFromEnv(structVal reflect.Value, fieldName string, value string) error {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		yamlTag := strings.Split(typ.Field(i).Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		if strings.EqualFold(yamlTag, fieldName) {
			return setField(structVal.Field(i), value)
		}
	}
	return nil
}

// setField converts value to the field's kind: string, integers, floats, bools and pointers to them.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.Ptr:
		elem := reflect.New(field.Type().Elem())
		if err := setField(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			items := strings.Split(value, ",")
			for i := range items {
				items[i] = strings.TrimSpace(items[i])
			}
			field.Set(reflect.ValueOf(items))
		}
	}
	return nil
}
