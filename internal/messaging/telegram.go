package messaging

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers reminders through a Telegram bot. Rooms are chat ids.
type TelegramSender struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramSender creates a sender for the bot identified by token.
func NewTelegramSender(token string) (*TelegramSender, error) {
	return NewTelegramSenderWithEndpoint(token, tgbotapi.APIEndpoint, &http.Client{})
}

// NewTelegramSenderWithEndpoint creates a sender against a custom Bot API endpoint.
func NewTelegramSenderWithEndpoint(token, endpoint string, client *http.Client) (*TelegramSender, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram backend needs a bot token")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

// JoinRoom validates the chat id. Bots cannot join chats on their own, so the
// room is used as given.
func (t *TelegramSender) JoinRoom(_ context.Context, room string) (string, error) {
	if _, err := parseChatID(room); err != nil {
		return "", err
	}
	return strings.TrimSpace(room), nil
}

// SendMessage posts markdown to the chat.
func (t *TelegramSender) SendMessage(ctx context.Context, roomID, markdown string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := parseChatID(roomID)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, telegramMarkdown(markdown))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	return nil
}

// Mention links name to a Telegram user id. Non-numeric ids fall back to the plain name.
func (t *TelegramSender) Mention(name, chatID string) string {
	if _, err := strconv.ParseInt(chatID, 10, 64); err != nil {
		return name
	}
	return fmt.Sprintf("[%s](tg://user?id=%s)", name, chatID)
}

func parseChatID(room string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(room), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q", room)
	}
	return id, nil
}

// telegramMarkdown maps CommonMark bold onto Telegram's legacy Markdown.
func telegramMarkdown(s string) string {
	return strings.ReplaceAll(s, "**", "*")
}
