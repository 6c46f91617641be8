package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

const telegramAPI = "https://api.telegram.org/bot%s/sendMessage"

// Telegram delivers escalation messages to a Telegram chat. One bounded
// retry covers transient network failures inside the cycle deadline.
type Telegram struct {
	token  string
	chatID string
	http   *http.Client
}

// NewTelegram constructs a Telegram notifier. Credentials come from the
// environment via config, never from the YAML file.
func NewTelegram(token, chatID string) (*Telegram, error) {
	if token == "" || chatID == "" {
		return nil, utils.NewAppError("notifier.init", "telegram requires TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID", nil)
	}
	return &Telegram{
		token:  token,
		chatID: chatID,
		http:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (t *Telegram) Notify(ctx context.Context, target string, decision models.EscalationDecision, findings []models.Finding, trend models.TrendReport) error {
	msg := FormatMessage(target, decision, findings, trend)
	err := t.send(ctx, msg)
	if err == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
	}
	if retryErr := t.send(ctx, msg); retryErr == nil {
		return nil
	}
	return utils.NewAppError("notifier.telegram", "delivery failed after retry", err)
}

func (t *Telegram) send(ctx context.Context, msg string) error {
	payload := map[string]any{"chat_id": t.chatID, "text": msg, "disable_web_page_preview": true}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(telegramAPI, t.token), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	reply, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d: %s", res.StatusCode, string(reply))
	}
	return nil
}
