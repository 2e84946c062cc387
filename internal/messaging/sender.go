// Package messaging delivers rendered reminders to chat rooms.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/calendar-bot/backend/internal/config"
)

// Sender is a chat backend that reminders are delivered through.
type Sender interface {
	// JoinRoom joins room, given as an alias or id, and returns the id to send to.
	JoinRoom(ctx context.Context, room string) (string, error)
	// SendMessage posts a Markdown message to a joined room.
	SendMessage(ctx context.Context, roomID, markdown string) error
	// Mention formats a mention of a chat user for use inside a message.
	Mention(name, chatID string) string
}

// Backend names accepted by New.
const (
	BackendMatrix   = "matrix"
	BackendTelegram = "telegram"
)

// APIError is a non-success response from a chat backend.
type APIError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: status %d: %s: %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

// New creates the Sender selected by cfg.Backend.
func New(cfg config.MessagingConfig, timeout time.Duration) (Sender, error) {
	switch cfg.Backend {
	case BackendMatrix, "":
		if cfg.Matrix.HomeserverURL == "" || cfg.Matrix.AccessToken == "" {
			return nil, fmt.Errorf("matrix backend needs homeserver_url and access_token")
		}
		return NewMatrixSender(cfg.Matrix.HomeserverURL, cfg.Matrix.AccessToken, timeout), nil
	case BackendTelegram:
		sender, err := NewTelegramSender(cfg.Telegram.Token)
		if err != nil {
			return nil, err
		}
		return sender, nil
	default:
		return nil, fmt.Errorf("unknown messaging backend %q", cfg.Backend)
	}
}
