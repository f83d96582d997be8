package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender posts alerts to one chat through the Bot API.
type TelegramSender struct {
	api    telegramAPI
	chatID int64
}

// NewTelegramSender connects to the Bot API with token.
func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &TelegramSender{api: api, chatID: chatID}, nil
}

// Send implements Sender. The title is rendered bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("*%s*\n%s",
		tgbotapi.EscapeText(tgbotapi.ModeMarkdown, title),
		tgbotapi.EscapeText(tgbotapi.ModeMarkdown, message)))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
