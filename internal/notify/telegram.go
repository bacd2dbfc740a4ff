package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// TelegramSender delivers notifications through the Telegram Bot API.
type TelegramSender struct {
	bot    *bot.Bot
	chatID string
}

// NewTelegramSender creates a sender for the given bot token and chat ID.
// Extra options (for example bot.WithServerURL in tests) are passed through.
func NewTelegramSender(token, chatID string, opts ...bot.Option) (*TelegramSender, error) {
	opts = append([]bot.Option{
		bot.WithSkipGetMe(),
		bot.WithHTTPClient(10*time.Second, &http.Client{Timeout: 10 * time.Second}),
	}, opts...)

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &TelegramSender{bot: b, chatID: chatID}, nil
}

// Send posts the message to the configured chat with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      fmt.Sprintf("*%s*\n%s", title, message),
		ParseMode: models.ParseModeMarkdownV1,
	})
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
