package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

const telegramAPI = "https://api.telegram.org"

var telegramMarks = map[domain.ActivityLevel]string{
	domain.LevelInfo:    "[info]",
	domain.LevelSuccess: "[ok]",
	domain.LevelError:   "[error]",
}

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender with a 10-second HTTP timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts msg with sendMessage, rendering the title in bold HTML.
func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	text := fmt.Sprintf("<b>%s %s</b>\n%s",
		telegramMarks[msg.Level], html.EscapeString(msg.Title), html.EscapeString(msg.Body))

	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (t *TelegramSender) Name() string {
	return "telegram"
}
