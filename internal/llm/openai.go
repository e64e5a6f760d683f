package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// chatProvider speaks the OpenAI chat completions API. OpenRouter exposes
// the same surface.
type chatProvider struct {
	provider string
	apiKey   string
	model    string
	baseURL  string
	client   *http.Client
}

func newChatProvider(provider, apiKey, model, baseURL string, timeout time.Duration) *chatProvider {
	return &chatProvider{
		provider: provider,
		apiKey:   apiKey,
		model:    model,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model          string           `json:"model"`
	Messages       []chatMessage    `json:"messages"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	Temperature    float64          `json:"temperature"`
	ResponseFormat *chatResponseFmt `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFmt struct {
	Type string `json:"type"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *chatProvider) Name() string {
	return c.provider + "/" + c.model
}

func (c *chatProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}

	messages := make([]chatMessage, 0, 2)
	if opts.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	req := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if strings.EqualFold(opts.Format, "json") {
		req.ResponseFormat = &chatResponseFmt{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.provider == "openrouter" {
		httpReq.Header.Set("HTTP-Referer", "https://github.com/hurttlocker/eventbot")
		httpReq.Header.Set("X-Title", "eventbot")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{Provider: c.provider, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%s API error: %s", c.provider, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s API", c.provider)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
