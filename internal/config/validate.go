package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hurttlocker/eventbot/internal/connect"
	"github.com/hurttlocker/eventbot/internal/llm"
)

// Purposes name the subcommand a configuration is validated for.
const (
	ForServe    = "serve"
	ForExtract  = "extract"
	ForStore    = "store"
	ForBackfill = "backfill"
	ForMCP      = "mcp"
)

type settings struct {
	TelegramToken    string `validate:"required,bot_token"`
	Backend          string `validate:"oneof=notion sqlite"`
	NotionToken      string `validate:"required_if=Backend notion,omitempty,notion_token"`
	NotionDatabaseID string `validate:"required_if=Backend notion"`
	LLM              string `validate:"required,llm_model"`
	LLMKey           string `validate:"required"`
	DBPath           string `validate:"required"`
	MetricsAddr      string `validate:"omitempty,hostname_port"`
	RedisAddr        string `validate:"omitempty,hostname_port"`
	Env              string `validate:"oneof=dev prod"`
	ScanPages        int    `validate:"gte=0"`
}

var storeFields = []string{"Backend", "NotionToken", "NotionDatabaseID", "DBPath", "ScanPages", "Env"}

var purposeFields = map[string][]string{
	ForExtract:  {"LLM", "LLMKey", "Env"},
	ForStore:    storeFields,
	ForBackfill: storeFields,
	ForMCP:      append([]string{"LLM", "LLMKey", "RedisAddr"}, storeFields...),
}

var labels = map[string]string{
	"TelegramToken":    "telegram token (TELEGRAM_BOT_TOKEN)",
	"Backend":          "store backend (EVENTBOT_STORE)",
	"NotionToken":      "notion token (NOTION_API_KEY)",
	"NotionDatabaseID": "database id (NOTION_DATABASE_ID)",
	"LLM":              "llm model (EVENTBOT_LLM)",
	"LLMKey":           "llm key (OPENAI_API_KEY, OPENROUTER_API_KEY or GEMINI_API_KEY)",
	"DBPath":           "database path (EVENTBOT_DB)",
	"MetricsAddr":      "metrics address (EVENTBOT_METRICS_ADDR)",
	"RedisAddr":        "redis address (EVENTBOT_REDIS_ADDR)",
	"Env":              "environment (EVENTBOT_ENV)",
	"ScanPages":        "store.scan_pages",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("bot_token", func(fl validator.FieldLevel) bool {
		return connect.ValidateBotToken(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("notion_token", func(fl validator.FieldLevel) bool {
		return connect.ValidateNotionToken(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("llm_model", func(fl validator.FieldLevel) bool {
		_, err := llm.ParseLLMFlag(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks every setting the bot needs to serve.
func (r ResolvedConfig) Validate() error {
	return r.ValidateFor(ForServe)
}

// ValidateFor checks only the settings the given purpose uses.
func (r ResolvedConfig) ValidateFor(purpose string) error {
	s := settings{
		TelegramToken:    r.TelegramToken.Value,
		Backend:          r.StoreBackend.Value,
		NotionToken:      r.NotionToken.Value,
		NotionDatabaseID: r.NotionDatabaseID.Value,
		LLM:              r.LLM.Value,
		LLMKey:           r.LLMKey().Value,
		DBPath:           r.DBPath.Value,
		MetricsAddr:      r.MetricsAddr.Value,
		RedisAddr:        r.RedisAddr.Value,
		Env:              r.Env.Value,
		ScanPages:        r.ScanPages,
	}

	v := newValidator()
	var err error
	if fields, ok := purposeFields[purpose]; ok {
		err = v.StructPartial(s, fields...)
	} else {
		err = v.Struct(s)
	}
	return describe(err)
}

func describe(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	var missing, invalid []string
	for _, fe := range verrs {
		label := labels[fe.Field()]
		if label == "" {
			label = fe.Field()
		}
		switch fe.Tag() {
		case "required", "required_if":
			missing = append(missing, label)
		default:
			invalid = append(invalid, fmt.Sprintf("%s (%s)", label, fe.Tag()))
		}
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing required settings: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid settings: "+strings.Join(invalid, ", "))
	}
	return errors.New(strings.Join(parts, "; "))
}
