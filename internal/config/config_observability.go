package config

// LoggingConfig controls the package-level slog handler constructed by the
// CLI entrypoint. Grounded on haasonsaas-nexus's own LoggingConfig.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

// TracingConfig controls OpenTelemetry tracing around
// Router.Complete/CompleteWithTools and the hook engine's
// RunPreToolUse/RunPostToolUse/RunPermissionRequest; streaming calls are not
// traced. Grounded on haasonsaas-nexus's TracingConfig.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}
