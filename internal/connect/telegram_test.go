package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestTelegramClient(t *testing.T, handler http.HandlerFunc) *TelegramClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewTelegramClient("123456:ABCDEFGHIJ")
	c.baseURL = server.URL
	return c
}

func TestTelegramGetUpdatesParsesForwards(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	c := newTestTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{
  "ok": true,
  "result": [
    {
      "update_id": 42,
      "message": {
        "message_id": 7,
        "date": 1767225600,
        "chat": {"id": 1001, "type": "private"},
        "caption": "Airdrop!",
        "photo": [{"file_id": "p1"}],
        "forward_origin": {
          "type": "channel",
          "date": 1767225000,
          "chat": {"id": -100123, "type": "channel", "username": "foo_news"},
          "message_id": 555
        }
      }
    },
    {
      "update_id": 43,
      "message": {
        "message_id": 8,
        "chat": {"id": 1001, "type": "private"},
        "text": "old style",
        "forward_from_chat": {"id": -100124, "type": "channel", "username": "bar"},
        "forward_from_message_id": 9
      }
    }
  ]
}`)
	})

	updates, err := c.GetUpdates(context.Background(), 42, 0)
	if err != nil {
		t.Fatalf("GetUpdates() failed: %v", err)
	}
	if gotPath != "/bot123456:ABCDEFGHIJ/getUpdates" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["offset"] != float64(42) {
		t.Fatalf("unexpected offset in payload: %v", gotBody)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}

	msg := updates[0].Message
	if !msg.IsForward() || len(msg.Photo) != 1 {
		t.Fatalf("expected forwarded photo message, got %+v", msg)
	}
	chat, id := msg.OriginChat()
	if chat == nil || chat.Username != "foo_news" || id != 555 {
		t.Fatalf("unexpected origin chat %+v id=%d", chat, id)
	}

	chat, id = updates[1].Message.OriginChat()
	if chat == nil || chat.Username != "bar" || id != 9 {
		t.Fatalf("unexpected legacy origin chat %+v id=%d", chat, id)
	}
}

func TestTelegramOriginChatIgnoresUserForwards(t *testing.T) {
	msg := &Message{ForwardOrigin: &MessageOrigin{Type: "hidden_user"}}
	if !msg.IsForward() {
		t.Fatal("expected forward")
	}
	if chat, _ := msg.OriginChat(); chat != nil {
		t.Fatalf("expected no origin chat, got %+v", chat)
	}
}

func TestTelegramSendAndEdit(t *testing.T) {
	var calls []string
	var lastBody map[string]interface{}
	c := newTestTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:])
		_ = json.NewDecoder(r.Body).Decode(&lastBody)
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			fmt.Fprint(w, `{"ok": true, "result": {"message_id": 99, "chat": {"id": 1001}}}`)
		case strings.HasSuffix(r.URL.Path, "/editMessageText"):
			fmt.Fprint(w, `{"ok": true, "result": true}`)
		default:
			http.NotFound(w, r)
		}
	})

	msg, err := c.SendMessage(context.Background(), 1001, "🔄 분석 중...")
	if err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}
	if msg.MessageID != 99 {
		t.Fatalf("expected message id 99, got %d", msg.MessageID)
	}
	if err := c.EditMessageText(context.Background(), 1001, msg.MessageID, "done"); err != nil {
		t.Fatalf("EditMessageText() failed: %v", err)
	}
	if len(calls) != 2 || calls[0] != "sendMessage" || calls[1] != "editMessageText" {
		t.Fatalf("unexpected calls: %v", calls)
	}
	if lastBody["message_id"] != float64(99) || lastBody["text"] != "done" {
		t.Fatalf("unexpected edit payload: %v", lastBody)
	}
}

func TestTelegramAPIErrors(t *testing.T) {
	c := newTestTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			fmt.Fprint(w, `{"ok": false, "description": "Bad Request: chat not found"}`)
			return
		}
		http.Error(w, `{"ok":false}`, http.StatusUnauthorized)
	})

	if _, err := c.SendMessage(context.Background(), 1, "x"); err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected description in error, got %v", err)
	}
	_, err := c.GetUpdates(context.Background(), 0, time.Second)
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
}

func TestValidateBotToken(t *testing.T) {
	tests := []struct {
		token   string
		wantErr bool
	}{
		{"123456:ABCDEFGHIJ", false},
		{"", true},
		{"abc:ABCDEFGHIJ", true},
		{"123456:short", true},
		{"no-colon", true},
	}
	for _, tt := range tests {
		if err := ValidateBotToken(tt.token); (err != nil) != tt.wantErr {
			t.Errorf("ValidateBotToken(%q) error=%v wantErr=%v", tt.token, err, tt.wantErr)
		}
	}
}
