package router

import (
	"regexp"
	"strings"
)

// aliasTable is the static short-name -> full-model-identifier table
// consulted before routing. Grounded on the alias examples named in the
// spec (sonnet, gpt4o, gemini); extended with a handful of siblings in the
// same register.
var aliasTable = map[string]string{
	"sonnet":     "claude-sonnet-4-20250514",
	"opus":       "claude-opus-4-20250514",
	"haiku":      "claude-haiku-4-20250514",
	"gpt4o":      "gpt-4o",
	"gpt4":       "gpt-4-turbo",
	"gpt4o-mini": "gpt-4o-mini",
	"gemini":     "gemini-1.5-flash",
	"gemini-pro": "gemini-1.5-pro",
}

// ResolveAlias lowercases model and looks it up in the static alias table.
// Unknown aliases pass through unchanged. Idempotent:
// ResolveAlias(ResolveAlias(x)) == ResolveAlias(x), since resolved values are
// never themselves keys in the table.
func ResolveAlias(model string) string {
	lower := strings.ToLower(model)
	if resolved, ok := aliasTable[lower]; ok {
		return resolved
	}
	return model
}

// providerPrefixes maps a registered "prefix/" namespace directly to a
// provider name (spec §4.1 step 1).
var providerPrefixes = map[string]string{
	"anthropic":  "anthropic",
	"openai":     "openai",
	"google":     "google",
	"gemini":     "google",
	"ollama":     "ollama",
	"bedrock":    "bedrock",
	"openrouter": "openrouter",
	"groq":       "groq",
	"together":   "together",
	"deepseek":   "deepseek",
	"fireworks":  "fireworks",
	"perplexity": "perplexity",
	"mistral":    "mistral",
}

// patternRules classify a bare model id by name pattern when no explicit
// prefix is present (spec §4.1 step 1, second clause).
var patternRules = []struct {
	pattern  *regexp.Regexp
	provider string
}{
	{regexp.MustCompile(`(?i)^claude`), "anthropic"},
	{regexp.MustCompile(`(?i)^gpt`), "openai"},
	{regexp.MustCompile(`(?i)^gemini`), "google"},
	{regexp.MustCompile(`(?i)^(llama|mistral|codellama|phi)`), "ollama"},
	{regexp.MustCompile(`(?i)^deepseek`), "deepseek"},
}

// DetectProvider returns the provider name that owns model, and whether the
// provider/model prefix form should be preserved verbatim on the wire (true
// only for the OpenRouter aggregator, whose wire protocol expects the
// prefixed form).
func DetectProvider(model string, registered map[string]bool) (provider string, preservePrefix bool, ok bool) {
	if idx := strings.Index(model, "/"); idx > 0 {
		prefix := strings.ToLower(model[:idx])
		if name, known := providerPrefixes[prefix]; known {
			if registered[name] {
				return name, name == "openrouter", true
			}
		}
		// Unknown prefix: fall back to the aggregator provider if present.
		if registered["openrouter"] {
			return "openrouter", true, true
		}
		return "", false, false
	}

	for _, rule := range patternRules {
		if rule.pattern.MatchString(model) && registered[rule.provider] {
			return rule.provider, false, true
		}
	}
	return "", false, false
}

// StripPrefix removes a "provider/" prefix from model unless preserve is
// true, in which case it is returned unchanged.
func StripPrefix(model string, preserve bool) string {
	if preserve {
		return model
	}
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[idx+1:]
	}
	return model
}
