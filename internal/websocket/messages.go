package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeCalendarSyncCompleted MessageType = "calendar.sync_completed"
	TypeCalendarSyncError     MessageType = "calendar.sync_error"
	TypeReminderSent          MessageType = "reminder.sent"
	TypeReminderFailed        MessageType = "reminder.failed"
	TypeRemindersRecomputed   MessageType = "reminders.recomputed"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload,omitempty"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// CalendarSyncPayload is the payload for calendar.sync_completed events.
type CalendarSyncPayload struct {
	CalendarID       string    `json:"calendar_id"`
	CalendarName     string    `json:"calendar_name"`
	DocumentsFetched int       `json:"documents_fetched"`
	EventsFound      int       `json:"events_found"`
	InstancesWritten int       `json:"instances_written"`
	RemindersPorted  int       `json:"reminders_ported"`
	SyncedAt         time.Time `json:"synced_at"`
}

// CalendarSyncErrorPayload is the payload for calendar.sync_error events.
type CalendarSyncErrorPayload struct {
	CalendarID   string `json:"calendar_id"`
	CalendarName string `json:"calendar_name"`
	Error        string `json:"error"`
	Message      string `json:"message"`
}

// ReminderPayload is the payload for reminder.sent and reminder.failed events.
type ReminderPayload struct {
	ReminderID string    `json:"reminder_id"`
	CalendarID string    `json:"calendar_id"`
	EventUID   string    `json:"event_uid"`
	Summary    string    `json:"summary"`
	Room       string    `json:"room"`
	OccursAt   time.Time `json:"occurs_at"`
	Error      string    `json:"error,omitempty"`
}

// RecomputedPayload is the payload for reminders.recomputed events.
type RecomputedPayload struct {
	Pending int `json:"pending"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
