// Package connect holds the HTTP clients for the external services the bot
// talks to: the Notion database that stores events and the Telegram Bot API
// that delivers messages.
package connect

import (
	"fmt"
	"strings"
)

// APIError is a non-2xx response from a remote API.
type APIError struct {
	Service    string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API %s %s returned %d: %s", e.Service, e.Method, e.Path, e.StatusCode, e.Body)
}

// ValidateNotionToken checks the shape of a Notion integration token.
func ValidateNotionToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("notion token is required")
	}
	if !strings.HasPrefix(token, "ntn_") && !strings.HasPrefix(token, "secret_") {
		return fmt.Errorf("notion token should start with ntn_ (or secret_ for legacy integrations)")
	}
	return nil
}

// ValidateBotToken checks the shape of a Telegram bot token.
func ValidateBotToken(token string) error {
	parts := strings.Split(strings.TrimSpace(token), ":")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return fmt.Errorf("bot token must look like '<digits>:<secret>'")
	}
	for _, ch := range parts[0] {
		if ch < '0' || ch > '9' {
			return fmt.Errorf("bot token prefix must be numeric")
		}
	}
	if len(parts[1]) < 8 {
		return fmt.Errorf("bot token secret looks too short")
	}
	return nil
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 500 {
		return s[:500] + "..."
	}
	return s
}
