package alert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrNoRecipient is returned when a Telegram message has no chat id.
var ErrNoRecipient = errors.New("no telegram chat id")

// Telegram sends HTML messages through a Telegram bot.
type Telegram struct {
	bot         *tgbotapi.BotAPI
	defaultChat string
}

// NewTelegram authenticates the bot token against the Telegram API.
// defaultChat is used for notifications without a Recipient.
func NewTelegram(token, defaultChat string) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, defaultChat, tgbotapi.APIEndpoint,
		&http.Client{Timeout: 10 * time.Second})
}

// NewTelegramWithEndpoint is NewTelegram against a custom API endpoint, in
// the "https://host/bot%s/%s" form.
func NewTelegramWithEndpoint(token, defaultChat, endpoint string, client *http.Client) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, defaultChat: defaultChat}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, n *Notification) error {
	chat := n.Recipient
	if chat == "" {
		chat = t.defaultChat
	}
	if chat == "" {
		return ErrNoRecipient
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chat, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, Format(n))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
