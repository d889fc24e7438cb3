// Package credentials implements the Credential Resolver boundary (spec
// §4.5): a synchronous per-provider API-key / base-URL lookup with a
// short-TTL in-process cache, backed by ~/.nimbus/auth.json and falling
// back to environment variables on any read or parse error.
//
// Grounded on the *pattern* in haasonsaas-nexus's internal/gateway/runtime.go
// buildProvider (per-provider config lookup with env fallback) and
// internal/config/config_llm.go's LLMProviderConfig shape; no teacher
// package matches this boundary exactly, since the teacher's
// internal/config.AuthConfig is app-level OAuth/JWT, a different concern.
package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// cacheTTL is the spec §4.5 5-second in-process cache window for the auth
// file contents.
const cacheTTL = 5 * time.Second

// Credential is the resolved {api_key?, base_url?, model?} tuple spec §4.5
// names for a provider.
type Credential struct {
	APIKey  string
	BaseURL string
	Model   string
}

// authFile mirrors the ~/.nimbus/auth.json shape from spec §6:
// {version, providers: {<name>: {apiKey?, baseUrl?, model?}}}.
type authFile struct {
	Version   int                      `json:"version"`
	Providers map[string]authFileEntry `json:"providers"`
}

type authFileEntry struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl"`
	Model   string `json:"model"`
}

// envKeys is the spec §6 fixed per-provider environment variable mapping.
var envKeys = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"google":     "GOOGLE_API_KEY",
	"gemini":     "GOOGLE_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"groq":       "GROQ_API_KEY",
	"together":   "TOGETHER_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"fireworks":  "FIREWORKS_API_KEY",
	"perplexity": "PERPLEXITY_API_KEY",
}

const defaultOllamaBaseURL = "http://localhost:11434"

// Resolver resolves provider credentials, caching the auth file's parsed
// contents for cacheTTL so repeated lookups in a hot request path don't
// re-stat and re-parse the file every call.
type Resolver struct {
	path string

	mu       sync.Mutex
	loadedAt time.Time
	cached   authFile
	loadErr  error
}

// New constructs a Resolver reading from the default path
// (~/.nimbus/auth.json, honoring $HOME).
func New() *Resolver {
	home, err := os.UserHomeDir()
	path := ""
	if err == nil {
		path = filepath.Join(home, ".nimbus", "auth.json")
	}
	return &Resolver{path: path}
}

// NewAtPath constructs a Resolver reading from an explicit path, primarily
// for tests.
func NewAtPath(path string) *Resolver {
	return &Resolver{path: path}
}

// Resolve returns the credential for provider, reading from the cached auth
// file first and falling back to environment variables for any field the
// file doesn't supply. Never returns an error: on any read/parse failure
// the resolver silently falls back to environment variables, per spec §4.5.
func (r *Resolver) Resolve(provider string) Credential {
	provider = strings.ToLower(strings.TrimSpace(provider))

	file := r.load()
	var cred Credential
	if entry, ok := file.Providers[provider]; ok {
		cred = Credential{APIKey: entry.APIKey, BaseURL: entry.BaseURL, Model: entry.Model}
	}

	if cred.APIKey == "" {
		if envVar, ok := envKeys[provider]; ok {
			cred.APIKey = os.Getenv(envVar)
		} else {
			// Generic *_API_KEY fallback for secondary providers not in the
			// fixed mapping, per spec §6.
			cred.APIKey = os.Getenv(strings.ToUpper(provider) + "_API_KEY")
		}
	}
	if cred.BaseURL == "" && provider == "ollama" {
		cred.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		if cred.BaseURL == "" {
			cred.BaseURL = defaultOllamaBaseURL
		}
	}
	return cred
}

// IsConfigured reports whether provider has a usable credential: a non-empty
// API key for every provider except Ollama, which only requires a base URL
// (always true, since Resolve defaults it).
func (r *Resolver) IsConfigured(provider string) bool {
	cred := r.Resolve(provider)
	if strings.ToLower(strings.TrimSpace(provider)) == "ollama" {
		return cred.BaseURL != ""
	}
	return cred.APIKey != ""
}

// load returns the cached auth file, refreshing it from disk if the cache
// has expired. Any error (missing file, invalid JSON) yields a zero-value
// authFile and is not surfaced — callers fall through to env vars.
func (r *Resolver) load() authFile {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.path == "" {
		return authFile{}
	}
	if !r.loadedAt.IsZero() && time.Since(r.loadedAt) < cacheTTL {
		return r.cached
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		r.loadErr = err
		r.cached = authFile{}
		r.loadedAt = time.Now()
		return r.cached
	}
	var parsed authFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		r.loadErr = err
		r.cached = authFile{}
		r.loadedAt = time.Now()
		return r.cached
	}
	r.loadErr = nil
	r.cached = parsed
	r.loadedAt = time.Now()
	return r.cached
}

// Invalidate clears the cache, forcing the next Resolve to re-read the auth
// file. Exposed for tests and for a `nimbus auth login` style command that
// just rewrote the file.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadedAt = time.Time{}
}
