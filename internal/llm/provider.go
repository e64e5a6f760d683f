// Package llm provides the text-generation providers used for event
// extraction and location classification.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns "provider/model", e.g. "openai/gpt-4o-mini".
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // 0 = provider default
	Temperature float64 // 0.0-2.0
	Model       string  // empty = provider default
	Format      string  // "json" asks for a JSON object
	System      string
}

// Config holds provider configuration.
type Config struct {
	Provider string // "openai", "openrouter", "google"
	Model    string
	APIKey   string // empty = read from env
	BaseURL  string
	Timeout  time.Duration
}

// HTTPError is a non-2xx reply from a provider.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

var providerDefaults = map[string]struct {
	model   string
	baseURL string
	envKeys []string
}{
	"openai":     {"gpt-4o-mini", "https://api.openai.com/v1", []string{"OPENAI_API_KEY"}},
	"openrouter": {"openai/gpt-4o-mini", "https://openrouter.ai/api/v1", []string{"OPENROUTER_API_KEY"}},
	"google":     {"gemini-2.5-flash", "https://generativelanguage.googleapis.com/v1beta", []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}},
}

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	def, ok := providerDefaults[name]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: openai, openrouter, google)", cfg.Provider)
	}

	key := strings.TrimSpace(cfg.APIKey)
	for _, env := range def.envKeys {
		if key != "" {
			break
		}
		key = strings.TrimSpace(os.Getenv(env))
	}
	if key == "" {
		return nil, fmt.Errorf("%s provider requires %s", name, strings.Join(def.envKeys, " or "))
	}

	model := cfg.Model
	if model == "" {
		model = def.model
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = def.baseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if name == "google" {
		return newGoogleProvider(key, model, baseURL, timeout), nil
	}
	return newChatProvider(name, key, model, baseURL, timeout), nil
}

// ParseLLMFlag parses a "provider/model" value. An empty value selects
// openai/gpt-4o-mini.
func ParseLLMFlag(flag string) (Config, error) {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return Config{Provider: "openai", Model: "gpt-4o-mini"}, nil
	}

	parts := strings.SplitN(flag, "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return Config{}, fmt.Errorf("invalid --llm format %q: expected provider/model (e.g., openai/gpt-4o-mini)", flag)
	}

	provider := strings.ToLower(parts[0])
	if _, ok := providerDefaults[provider]; !ok {
		return Config{}, fmt.Errorf("unknown provider %q in --llm flag (supported: openai, openrouter, google)", provider)
	}
	return Config{Provider: provider, Model: parts[1]}, nil
}
