// Package main provides the CLI entry point for nimbus, a developer-facing
// LLM router: one uniform Provider contract over Anthropic, OpenAI-style,
// Google, Ollama, and Bedrock backends, with budget enforcement, retry,
// circuit breaking, and failover, plus a subprocess hook engine around tool
// calls.
//
// # Basic usage
//
//	nimbus complete --prompt "explain this diff"
//	nimbus providers
//	nimbus doctor
//
// # Environment variables
//
//   - NIMBUS_CONFIG: path to the config file (default: nimbus.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY, ...: per-provider
//     credential fallback, consulted when ~/.nimbus/auth.json has no entry
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/the-ai-project-co/nimbus-sub005/internal/agent"
	"github.com/the-ai-project-co/nimbus-sub005/internal/agent/bedrockdiscovery"
	"github.com/the-ai-project-co/nimbus-sub005/internal/agent/providers"
	"github.com/the-ai-project-co/nimbus-sub005/internal/agent/router"
	"github.com/the-ai-project-co/nimbus-sub005/internal/config"
	"github.com/the-ai-project-co/nimbus-sub005/internal/credentials"
	"github.com/the-ai-project-co/nimbus-sub005/internal/hooks"
	"github.com/the-ai-project-co/nimbus-sub005/internal/observability"
	"github.com/the-ai-project-co/nimbus-sub005/internal/usage"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := buildRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached,
// separated from main so tests can exercise it directly.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "nimbus",
		Short:        "nimbus - a uniform LLM router and hook-driven tool gateway",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "nimbus.yaml", "path to config file (or $NIMBUS_CONFIG)")

	rootCmd.AddCommand(
		buildCompleteCmd(),
		buildProvidersCmd(),
		buildRunToolCmd(),
		buildHooksWatchCmd(),
		buildBedrockModelsCmd(),
		buildDoctorCmd(),
	)
	return rootCmd
}

func resolveConfigPath() string {
	if env := os.Getenv("NIMBUS_CONFIG"); env != "" {
		return env
	}
	return configPath
}

// app bundles everything a command needs to dispatch a request: the
// router with every configured provider registered, and the hook engine
// guarding tool calls.
type app struct {
	cfg             *config.Config
	router          *router.Router
	hooks           *hooks.Engine
	sink            *usage.SQLiteSink
	shutdownTracing func(context.Context) error
}

// Close flushes and closes the usage sink and shuts down the tracer.
// Callers should defer this right after newApp succeeds.
func (a *app) Close() error {
	_ = a.shutdownTracing(context.Background())
	return a.sink.Close()
}

// newApp loads the config, resolves credentials, constructs every
// configured provider, and wires the router/circuit breaker/pricing
// table/usage sink/hook engine together. Mirrors the teacher's single
// buildXxx-per-subsystem wiring pattern in cmd/nexus/main.go, narrowed to
// this module's three subsystems.
func newApp(logger *slog.Logger) (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	sink, err := usage.NewSQLiteSink(cfg.UsageDB, logger)
	if err != nil {
		return nil, fmt.Errorf("open usage sink: %w", err)
	}

	breaker := router.NewCircuitBreaker(router.DefaultCircuitBreakerConfig(), prometheus.DefaultRegisterer)
	pricing := router.DefaultPricingTable()

	rcfg := router.DefaultConfig()
	rcfg.DefaultProvider = cfg.LLM.DefaultProvider
	rcfg.Fallback = router.FallbackConfig{Enabled: len(cfg.LLM.FallbackChain) > 0, Providers: cfg.LLM.FallbackChain}
	rcfg.RateLimit = router.RateLimiterConfig{
		RequestsPerSecond: cfg.LLM.RateLimit.RequestsPerSecond,
		Burst:             cfg.LLM.RateLimit.Burst,
	}

	r := router.New(rcfg, breaker, pricing, sink, logger, nil)

	resolver := credentials.New()
	registerConfiguredProviders(r, cfg, resolver, logger)

	hookEngine, err := hooks.Load(cfg.HooksPath)
	if err != nil {
		return nil, fmt.Errorf("load hooks: %w", err)
	}

	tracer, shutdownTracing := observability.NewTracer(observability.Config{
		ServiceName:    firstNonEmpty(cfg.Tracing.ServiceName, "nimbus"),
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Endpoint:       tracingEndpoint(cfg),
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	r.SetTracer(tracer)
	hookEngine.SetTracer(tracer)

	return &app{cfg: cfg, router: r, hooks: hookEngine, sink: sink, shutdownTracing: shutdownTracing}, nil
}

// tracingEndpoint returns the configured OTLP endpoint, or empty (which
// yields a no-op tracer) when tracing isn't enabled.
func tracingEndpoint(cfg *config.Config) string {
	if !cfg.Tracing.Enabled {
		return ""
	}
	return cfg.Tracing.Endpoint
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// registerConfiguredProviders constructs and registers an adapter for every
// provider named under llm.providers whose credentials resolve, logging and
// skipping (never failing the whole run) any that don't construct cleanly —
// a misconfigured secondary provider shouldn't block using the rest.
func registerConfiguredProviders(r *router.Router, cfg *config.Config, resolver *credentials.Resolver, logger *slog.Logger) {
	for name, pcfg := range cfg.LLM.Providers {
		cred := resolver.Resolve(name)
		apiKey := cred.APIKey
		if pcfg.APIKey != "" {
			apiKey = pcfg.APIKey
		}
		baseURL := cred.BaseURL
		if pcfg.BaseURL != "" {
			baseURL = pcfg.BaseURL
		}

		p, err := buildProvider(name, apiKey, baseURL, pcfg.DefaultModel)
		if err != nil {
			logger.Warn("skipping provider: failed to construct adapter", "provider", name, "error", err)
			continue
		}
		r.RegisterProvider(name, p)
	}
}

// buildProvider constructs the Provider adapter for a named vendor. Shared
// OpenAI-compatible hosts (groq/together/deepseek/fireworks/perplexity/
// mistral) reuse providers.OpenAIConfig per spec §4.2.
func buildProvider(name, apiKey, baseURL, defaultModel string) (agent.Provider, error) {
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: apiKey, BaseURL: baseURL, DefaultModel: defaultModel})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{Name: name, APIKey: apiKey, BaseURL: baseURL, DefaultModel: defaultModel})
	case "openrouter":
		return providers.NewOpenRouterProvider(providers.OpenAIConfig{Name: name, APIKey: apiKey, BaseURL: baseURL, DefaultModel: defaultModel})
	case "groq":
		return providers.NewGroqProvider(providers.OpenAIConfig{Name: name, APIKey: apiKey, BaseURL: baseURL, DefaultModel: defaultModel})
	case "together":
		return providers.NewTogetherProvider(providers.OpenAIConfig{Name: name, APIKey: apiKey, BaseURL: baseURL, DefaultModel: defaultModel})
	case "deepseek":
		return providers.NewDeepSeekProvider(providers.OpenAIConfig{Name: name, APIKey: apiKey, BaseURL: baseURL, DefaultModel: defaultModel})
	case "fireworks":
		return providers.NewFireworksProvider(providers.OpenAIConfig{Name: name, APIKey: apiKey, BaseURL: baseURL, DefaultModel: defaultModel})
	case "perplexity":
		return providers.NewPerplexityProvider(providers.OpenAIConfig{Name: name, APIKey: apiKey, BaseURL: baseURL, DefaultModel: defaultModel})
	case "mistral":
		return providers.NewMistralProvider(providers.OpenAIConfig{Name: name, APIKey: apiKey, BaseURL: baseURL, DefaultModel: defaultModel})
	case "google", "gemini":
		return providers.NewGoogleProvider(providers.GoogleConfig{APIKey: apiKey, DefaultModel: defaultModel})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{BaseURL: baseURL, DefaultModel: defaultModel}), nil
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{DefaultModel: defaultModel})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func buildCompleteCmd() *cobra.Command {
	var prompt, model, taskClass string
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Send a single prompt through the router and print the response",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("--prompt is required")
			}
			a, err := newApp(slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()
			resp, err := a.router.Complete(cmd.Context(), &agent.CompletionRequest{
				Model:    model,
				Messages: []agent.Message{{Role: agent.RoleUser, Content: prompt}},
			}, taskClass)
			if err != nil {
				warnCircuitOpen(a.router)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Content)
			meta := a.router.LastMeta()
			slog.Info("completion served", "provider", meta.ActiveProvider, "fallback", meta.IsFallback, "model", resp.Model)
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text to send")
	cmd.Flags().StringVar(&model, "model", "", "model id or alias (defaults to llm.default_provider's configured model)")
	cmd.Flags().StringVar(&taskClass, "task-class", "", "task class for cost-optimization routing (e.g. quick, code, reasoning); this CLI builds the router with cost optimization disabled and no classifier, so the value does not change model selection")
	return cmd
}

func buildProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List registered providers and their circuit state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()
			for _, name := range a.router.AvailableProviders() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tavailable\n", name)
			}
			for _, name := range a.router.DisabledProviders() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tcircuit_open\n", name)
			}
			return nil
		},
	}
}

func buildRunToolCmd() *cobra.Command {
	var toolName, input, sessionID string
	cmd := &cobra.Command{
		Use:   "run-tool",
		Short: "Run PreToolUse/PostToolUse hooks around a tool invocation and report the verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			if toolName == "" {
				return fmt.Errorf("--tool is required")
			}
			a, err := newApp(slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()

			hc := hooks.HookContext{
				Tool:      toolName,
				Input:     json.RawMessage(input),
				SessionID: sessionID,
				Agent:     "nimbus",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}

			verdict, err := a.hooks.RunPreToolUse(cmd.Context(), hc)
			if err != nil {
				return fmt.Errorf("run pre-tool-use hooks: %w", err)
			}
			if !verdict.Allowed {
				fmt.Fprintf(cmd.OutOrStdout(), "blocked: %s\n", verdict.Message)
				return nil
			}

			hc.Result = &hooks.ToolResult{Output: fmt.Sprintf("%s: ok", toolName)}
			a.hooks.RunPostToolUse(cmd.Context(), hc)

			fmt.Fprintf(cmd.OutOrStdout(), "allowed: %s\n", hc.Result.Output)
			return nil
		},
	}
	cmd.Flags().StringVar(&toolName, "tool", "", "tool name to check against configured hooks")
	cmd.Flags().StringVar(&input, "input", "{}", "tool input as a raw JSON object")
	cmd.Flags().StringVar(&sessionID, "session", "cli", "session id recorded in the hook context")
	return cmd
}

// buildHooksWatchCmd starts a long-running watch over the hooks file,
// reloading the engine on every edit until interrupted — the supporting
// loop a hook author runs in one terminal while iterating on hooks.yaml in
// another.
func buildHooksWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks-watch",
		Short: "Watch the hooks file and reload on every edit until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			w, err := hooks.NewWatcher(cfg.HooksPath, slog.Default())
			if err != nil {
				return fmt.Errorf("watch hooks file: %w", err)
			}
			defer w.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s, press ctrl-c to stop\n", cfg.HooksPath)
			<-cmd.Context().Done()
			return nil
		},
	}
	return cmd
}

func buildBedrockModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bedrock-models",
		Short: "List AWS Bedrock foundation models available for routing (requires llm.bedrock.enabled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			if !cfg.LLM.Bedrock.Enabled {
				return fmt.Errorf("llm.bedrock.enabled is false; set it to true to query live model discovery")
			}

			refresh, err := time.ParseDuration(cfg.LLM.Bedrock.RefreshInterval)
			if err != nil || refresh <= 0 {
				refresh = time.Hour
			}
			models, err := bedrockdiscovery.DiscoverModels(cmd.Context(), &bedrockdiscovery.DiscoveryConfig{
				Region:               cfg.LLM.Bedrock.Region,
				RefreshInterval:      refresh,
				ProviderFilter:       cfg.LLM.Bedrock.ProviderFilter,
				DefaultContextWindow: cfg.LLM.Bedrock.DefaultContextWindow,
				DefaultMaxTokens:     cfg.LLM.Bedrock.DefaultMaxTokens,
			})
			if err != nil {
				return fmt.Errorf("discover bedrock models: %w", err)
			}
			for _, m := range models {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tcontext=%d\tmax_tokens=%d\n", m.ID, m.Provider, m.ContextWindow, m.MaxTokens)
			}
			return nil
		},
	}
}

func buildDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, credentials, and hooks for obvious misconfiguration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config: ok (%s)\n", resolveConfigPath())

			resolver := credentials.New()
			for name := range cfg.LLM.Providers {
				status := "configured"
				if !resolver.IsConfigured(name) {
					status = "missing credentials"
				}
				fmt.Fprintf(out, "provider %s: %s\n", name, status)
			}

			if _, err := hooks.Load(cfg.HooksPath); err != nil {
				fmt.Fprintf(out, "hooks (%s): %v\n", cfg.HooksPath, err)
			} else {
				fmt.Fprintf(out, "hooks (%s): ok\n", cfg.HooksPath)
			}
			return nil
		},
	}
}

// warnCircuitOpen prints a stderr warning for every provider whose circuit
// is currently open, in yellow when stderr is a TTY (spec §7).
func warnCircuitOpen(r *router.Router) {
	disabled := r.DisabledProviders()
	if len(disabled) == 0 {
		return
	}
	warn := color.New(color.FgYellow)
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		warn.EnableColor()
	} else {
		warn.DisableColor()
	}
	for _, name := range disabled {
		warn.Fprintf(os.Stderr, "circuit open for provider %s, skipping until cooldown elapses\n", name)
	}
}
