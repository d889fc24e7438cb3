package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration for nimbus, loaded from nimbus.yaml.
// Grounded on haasonsaas-nexus's internal/config/config.go top-level layout
// (one struct per concern, `yaml:"..."` tags, a single Load entrypoint) but
// trimmed to the concerns the router/provider/hook subsystems actually read.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`

	// HooksPath is where the hook engine loads its YAML hook declarations
	// from. Defaults to ".nimbus/hooks.yaml"; a missing file is not an error.
	HooksPath string `yaml:"hooks_path"`

	// UsageDB is the sqlite file backing the usage sink. Defaults to
	// "~/.nimbus/usage.db".
	UsageDB string `yaml:"usage_db"`
}

// Load reads and parses path (resolving $include directives via LoadRaw),
// expands environment variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyLLMDefaults(&cfg.LLM)
	applyLoggingDefaults(&cfg.Logging)

	if strings.TrimSpace(cfg.HooksPath) == "" {
		cfg.HooksPath = filepath.Join(".nimbus", "hooks.yaml")
	}
	if strings.TrimSpace(cfg.UsageDB) == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.UsageDB = filepath.Join(home, ".nimbus", "usage.db")
	}
}

// applyEnvOverrides lets deployment environments override credentials
// without editing the config file, matching the teacher's single
// env-override boundary convention (no per-field envconfig tags).
func applyEnvOverrides(cfg *Config) {
	for name, pcfg := range cfg.LLM.Providers {
		envVar := strings.ToUpper(name) + "_API_KEY"
		if key := os.Getenv(envVar); key != "" && pcfg.APIKey == "" {
			pcfg.APIKey = key
			cfg.LLM.Providers[name] = pcfg
		}
	}
}

// ConfigValidationError collects one or more configuration problems found
// during Load, so the caller sees every issue instead of just the first.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "invalid configuration:\n  - " + strings.Join(e.Issues, "\n  - ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	if cfg.LLM.DefaultProvider != "" {
		if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
			issues = append(issues, fmt.Sprintf("llm.default_provider %q has no matching entry under llm.providers", cfg.LLM.DefaultProvider))
		}
	}
	for _, name := range cfg.LLM.FallbackChain {
		if _, ok := cfg.LLM.Providers[name]; !ok {
			issues = append(issues, fmt.Sprintf("llm.fallback_chain entry %q has no matching entry under llm.providers", name))
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
