// File: internal/infra/adapters/notify/telegram_sink.go
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"subscription-billing/internal/domain/ports/adapter"
)

var _ adapter.NotificationSink = (*TelegramSink)(nil)

// TelegramSink forwards operator-facing events (reaper sweep summaries,
// settlement alerts) to the configured admin chats. Send failures are
// logged and swallowed; notification delivery never fails a payment
// operation.
type TelegramSink struct {
	bot     *tgbotapi.BotAPI
	chatIDs []int64
	log     *zerolog.Logger
}

func NewTelegramSink(token string, chatIDs []int64, logger *zerolog.Logger) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	l := logger.With().Str("component", "TelegramSink").Logger()
	return &TelegramSink{bot: bot, chatIDs: chatIDs, log: &l}, nil
}

func (t *TelegramSink) Publish(ctx context.Context, ev adapter.Event) {
	text := ev.Title
	if ev.Message != "" {
		text += "\n" + ev.Message
	}
	for _, chatID := range t.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := t.bot.Send(msg); err != nil {
			t.log.Error().Err(err).Int64("chat_id", chatID).Str("type", ev.Type).Msg("telegram notify failed")
		}
	}
}
