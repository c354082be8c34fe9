package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts *LoggingConfig from *Config.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Chunkflow.System.Logging
}

// NewBatchConfigProvider extracts *BatchConfig from *Config so step factories can depend on it alone.
func NewBatchConfigProvider(cfg *Config) *BatchConfig {
	return &cfg.Chunkflow.Batch
}

// Module provides *Config (loaded from the supplied EmbeddedConfig) and its sections.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(NewBatchConfigProvider),
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
)
