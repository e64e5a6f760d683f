package connect

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

var telegramAPIBaseURL = "https://api.telegram.org"

// TelegramClient is a minimal Bot API client: long polling, sending and
// editing text messages.
type TelegramClient struct {
	baseURL    string
	botToken   string
	httpClient *http.Client
}

// NewTelegramClient returns a client for botToken.
func NewTelegramClient(botToken string) *TelegramClient {
	return &TelegramClient{
		baseURL:  strings.TrimRight(telegramAPIBaseURL, "/"),
		botToken: strings.TrimSpace(botToken),
		// Long polls are bounded by the request context, not the client.
		httpClient: &http.Client{},
	}
}

// GetUpdates long-polls for updates with update_id >= offset, waiting up to
// timeout for one to arrive.
func (c *TelegramClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	secs := int(timeout / time.Second)
	if secs < 0 {
		secs = 0
	}
	payload := map[string]interface{}{
		"timeout":         secs,
		"limit":           100,
		"allowed_updates": []string{"message"},
	}
	if offset > 0 {
		payload["offset"] = offset
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+15*time.Second)
	defer cancel()

	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage posts text to chatID and returns the sent message.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string) (*Message, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessageText replaces the text of a message the bot sent earlier.
func (c *TelegramClient) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	return c.call(ctx, "editMessageText", map[string]interface{}{
		"chat_id":                  chatID,
		"message_id":               messageID,
		"text":                     text,
		"disable_web_page_preview": true,
	}, nil)
}

func (c *TelegramClient) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Service: "telegram", Method: http.MethodPost, Path: "/" + method, StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}

	var env telegramResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !env.OK {
		if env.Description == "" {
			env.Description = "unknown error"
		}
		return fmt.Errorf("telegram API error: %s", env.Description)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Update is one Bot API update. Only messages are requested.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is the subset of a Bot API message the bot reads.
type Message struct {
	MessageID     int64          `json:"message_id"`
	Date          int64          `json:"date"`
	Text          string         `json:"text"`
	Caption       string         `json:"caption"`
	From          *User          `json:"from"`
	Chat          Chat           `json:"chat"`
	Photo         []PhotoSize    `json:"photo"`
	ForwardOrigin *MessageOrigin `json:"forward_origin"`

	// Pre-7.0 forward fields, still sent by some clients.
	ForwardFromChat      *Chat `json:"forward_from_chat"`
	ForwardFromMessageID int64 `json:"forward_from_message_id"`
}

// IsForward reports whether the message was forwarded from anywhere.
func (m *Message) IsForward() bool {
	return m.ForwardOrigin != nil || m.ForwardFromChat != nil
}

// OriginChat returns the source channel and its message ID, when the
// message was forwarded from a channel.
func (m *Message) OriginChat() (*Chat, int64) {
	if o := m.ForwardOrigin; o != nil {
		if o.Type == "channel" && o.Chat != nil {
			return o.Chat, o.MessageID
		}
		return nil, 0
	}
	if m.ForwardFromChat != nil && m.ForwardFromChat.Type == "channel" {
		return m.ForwardFromChat, m.ForwardFromMessageID
	}
	return nil, 0
}

// MessageOrigin describes where a forwarded message came from.
type MessageOrigin struct {
	Type      string `json:"type"` // user, hidden_user, chat, channel
	Date      int64  `json:"date"`
	Chat      *Chat  `json:"chat"`
	MessageID int64  `json:"message_id"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Username string `json:"username"`
}

type PhotoSize struct {
	FileID string `json:"file_id"`
}
