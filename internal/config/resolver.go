// Package config resolves eventbot settings from the config file, the
// environment and CLI flags, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/eventbot/internal/event"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// Defaults for values that are never empty after resolution.
const (
	DefaultLLM     = "openai/gpt-4o-mini"
	DefaultDBPath  = "~/.eventbot/eventbot.db"
	DefaultBackend = "notion"
	DefaultEnv     = "prod"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// Redacted shows only the last four characters of a secret.
func (v ResolvedValue) Redacted() ResolvedValue {
	if v.Value == "" {
		return v
	}
	tail := v.Value
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	v.Value = "****" + tail
	return v
}

type ResolveOptions struct {
	ConfigPath     string
	CLILLM         string
	CLIDBPath      string
	CLIStore       string
	CLIMetricsAddr string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	TelegramToken    ResolvedValue `json:"telegram_token"`
	NotionToken      ResolvedValue `json:"notion_token"`
	NotionDatabaseID ResolvedValue `json:"notion_database_id"`
	LLM              ResolvedValue `json:"llm"`
	DBPath           ResolvedValue `json:"db_path"`
	StoreBackend     ResolvedValue `json:"store_backend"`
	MetricsAddr      ResolvedValue `json:"metrics_addr"`
	RedisAddr        ResolvedValue `json:"redis_addr"`
	Env              ResolvedValue `json:"env"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`

	Columns              event.Columns `json:"columns"`
	ScanPages            int           `json:"scan_pages"`
	SkipOnExtractFailure bool          `json:"skip_on_extract_failure"`
	FetchLinks           bool          `json:"fetch_links"`
}

type fileConfig struct {
	Env      string `yaml:"env"`
	Telegram struct {
		Token string `yaml:"token"`
	} `yaml:"telegram"`
	Notion struct {
		Token      string        `yaml:"token"`
		DatabaseID string        `yaml:"database_id"`
		Columns    event.Columns `yaml:"columns"`
	} `yaml:"notion"`
	LLM struct {
		Model  string `yaml:"model"`
		APIKey string `yaml:"api_key"`
	} `yaml:"llm"`
	Store struct {
		Backend   string `yaml:"backend"`
		DBPath    string `yaml:"db_path"`
		ScanPages *int   `yaml:"scan_pages"`
	} `yaml:"store"`
	Intake struct {
		SkipOnExtractFailure bool `yaml:"skip_on_extract_failure"`
	} `yaml:"intake"`
	Extract struct {
		FetchLinks *bool `yaml:"fetch_links"`
	} `yaml:"extract"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".eventbot", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("EVENTBOT_CONFIG"))
	}
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath:   path,
		LLM:          ResolvedValue{Value: DefaultLLM, Source: SourceDefault, From: "built-in default"},
		DBPath:       ResolvedValue{Value: DefaultDBPath, Source: SourceDefault, From: "built-in default"},
		StoreBackend: ResolvedValue{Value: DefaultBackend, Source: SourceDefault, From: "built-in default"},
		Env:          ResolvedValue{Value: DefaultEnv, Source: SourceDefault, From: "built-in default"},
		LLMKeys:      map[string]ResolvedValue{},
		ScanPages:    10,
		FetchLinks:   true,
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.TelegramToken, cfg.Telegram.Token, SourceConfig, path)
		apply(&out.NotionToken, cfg.Notion.Token, SourceConfig, path)
		apply(&out.NotionDatabaseID, cfg.Notion.DatabaseID, SourceConfig, path)
		apply(&out.LLM, cfg.LLM.Model, SourceConfig, path)
		apply(&out.DBPath, cfg.Store.DBPath, SourceConfig, path)
		apply(&out.StoreBackend, cfg.Store.Backend, SourceConfig, path)
		apply(&out.MetricsAddr, cfg.Metrics.Addr, SourceConfig, path)
		apply(&out.RedisAddr, cfg.Redis.Addr, SourceConfig, path)
		apply(&out.Env, cfg.Env, SourceConfig, path)

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			p := providerOf(cfg.LLM.Model)
			if p == "" {
				p = "default"
			}
			out.LLMKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}

		out.Columns = cfg.Notion.Columns
		if cfg.Store.ScanPages != nil {
			out.ScanPages = *cfg.Store.ScanPages
		}
		out.SkipOnExtractFailure = cfg.Intake.SkipOnExtractFailure
		if cfg.Extract.FetchLinks != nil {
			out.FetchLinks = *cfg.Extract.FetchLinks
		}
	}
	out.Columns = out.Columns.WithDefaults()

	applyEnv(&out.TelegramToken, "TELEGRAM_BOT_TOKEN")
	applyEnv(&out.NotionToken, "NOTION_API_KEY")
	applyEnv(&out.NotionDatabaseID, "NOTION_DATABASE_ID")
	applyEnv(&out.LLM, "EVENTBOT_LLM")
	applyEnv(&out.DBPath, "EVENTBOT_DB")
	applyEnv(&out.StoreBackend, "EVENTBOT_STORE")
	applyEnv(&out.MetricsAddr, "EVENTBOT_METRICS_ADDR")
	applyEnv(&out.RedisAddr, "EVENTBOT_REDIS_ADDR")
	applyEnv(&out.Env, "EVENTBOT_ENV")

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"OPENAI_API_KEY":     "openai",
		"GEMINI_API_KEY":     "google",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLM, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.StoreBackend, opts.CLIStore, SourceCLI, "--store")
	apply(&out.MetricsAddr, opts.CLIMetricsAddr, SourceCLI, "--metrics-addr")

	out.DBPath.Value = expandUserPath(out.DBPath.Value)
	out.StoreBackend.Value = strings.ToLower(out.StoreBackend.Value)
	out.Env.Value = strings.ToLower(out.Env.Value)

	return out, nil
}

// LLMKey returns the API key for the configured model's provider.
func (r ResolvedConfig) LLMKey() ResolvedValue {
	return r.APIKeyForProvider(r.LLM.Value)
}

func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

// Redacted returns a copy that is safe to print.
func (r ResolvedConfig) Redacted() ResolvedConfig {
	r.TelegramToken = r.TelegramToken.Redacted()
	r.NotionToken = r.NotionToken.Redacted()
	keys := make(map[string]ResolvedValue, len(r.LLMKeys))
	for p, v := range r.LLMKeys {
		keys[p] = v.Redacted()
	}
	r.LLMKeys = keys
	return r
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
