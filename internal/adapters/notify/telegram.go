// Package notify delivers exit notifications to a Telegram chat.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"optionsSentry/internal/ports"
)

// TelegramNotifier sends exit events to a Telegram chat via the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
	logger   ports.Logger
}

// NewTelegramNotifier creates a notifier for the given bot token and chat.
func NewTelegramNotifier(botToken, chatID string, logger ports.Logger) (*TelegramNotifier, error) {
	if botToken == "" || chatID == "" {
		return nil, fmt.Errorf("%w: telegram bot token and chat id required", ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger required", ports.ErrConfigurationError)
	}
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}, nil
}

// NotifyExit formats and sends the exit event. Failures are returned to the
// caller but never block the exit itself.
func (t *TelegramNotifier) NotifyExit(ctx context.Context, ev ports.ExitEvent) error {
	emoji := "✅"
	if ev.PnL < 0 {
		emoji = "🔻"
	}
	text := fmt.Sprintf(
		"%s *Position closed*\n"+
			"Symbol: `%s` (%s)\n"+
			"Entry: ₹%.2f → Exit: ₹%.2f × %d\n"+
			"P&L: ₹%.2f (%.2f%%)\n"+
			"Reason: %s\n"+
			"Time: %s",
		emoji, ev.Symbol, ev.Class, ev.EntryPrice, ev.ExitPrice, ev.Quantity,
		ev.PnL, ev.PnLPct, ev.Reason, ev.Timestamp.Format("15:04:05"),
	)
	return t.sendMessage(ctx, text)
}

type telegramPayload struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *TelegramNotifier) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)

	body, err := json.Marshal(telegramPayload{ChatID: t.chatID, Text: text, ParseMode: "Markdown"})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// NopNotifier discards all notifications. Used when Telegram is not
// configured.
type NopNotifier struct{}

func (NopNotifier) NotifyExit(context.Context, ports.ExitEvent) error { return nil }

// Compile-time interface checks.
var (
	_ ports.Notifier = (*TelegramNotifier)(nil)
	_ ports.Notifier = NopNotifier{}
)
