package websocket

import (
	"github.com/sirupsen/logrus"

	"github.com/calendar-bot/backend/internal/storage/models"
)

// EventBroadcaster turns sync and reminder activity into WebSocket events.
type EventBroadcaster struct {
	hub    *Hub
	logger logrus.FieldLogger
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub, logger logrus.FieldLogger) *EventBroadcaster {
	return &EventBroadcaster{hub: hub, logger: logger}
}

// BroadcastCalendarSyncCompleted sends a calendar sync completed event.
func (b *EventBroadcaster) BroadcastCalendarSyncCompleted(result models.CalendarSyncResult) {
	b.broadcast(NewMessage(TypeCalendarSyncCompleted, CalendarSyncPayload{
		CalendarID:       result.CalendarID,
		CalendarName:     result.CalendarName,
		DocumentsFetched: result.DocumentsFetched,
		EventsFound:      result.EventsFound,
		InstancesWritten: result.InstancesWritten,
		RemindersPorted:  result.RemindersPorted,
		SyncedAt:         result.SyncedAt,
	}))
}

// BroadcastCalendarSyncError sends a calendar sync error event.
func (b *EventBroadcaster) BroadcastCalendarSyncError(calendarID, calendarName string, err error) {
	b.broadcast(NewMessage(TypeCalendarSyncError, CalendarSyncErrorPayload{
		CalendarID:   calendarID,
		CalendarName: calendarName,
		Error:        "sync_error",
		Message:      err.Error(),
	}))
}

// BroadcastReminderSent reports a delivered reminder.
func (b *EventBroadcaster) BroadcastReminderSent(p models.PendingReminder) {
	b.broadcast(NewMessage(TypeReminderSent, reminderPayload(p, nil)))
}

// BroadcastReminderFailed reports a reminder that could not be delivered.
func (b *EventBroadcaster) BroadcastReminderFailed(p models.PendingReminder, err error) {
	b.broadcast(NewMessage(TypeReminderFailed, reminderPayload(p, err)))
}

// BroadcastRemindersRecomputed reports a rebuilt reminder queue.
func (b *EventBroadcaster) BroadcastRemindersRecomputed(pending int) {
	b.broadcast(NewMessage(TypeRemindersRecomputed, RecomputedPayload{Pending: pending}))
}

func reminderPayload(p models.PendingReminder, err error) ReminderPayload {
	payload := ReminderPayload{
		ReminderID: p.ReminderID,
		CalendarID: p.CalendarID,
		EventUID:   p.EventUID,
		Summary:    p.Summary,
		Room:       p.Room,
		OccursAt:   p.OccursAt,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	return payload
}

// broadcast sends a message to all connected clients.
func (b *EventBroadcaster) broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		b.logger.WithError(err).Error("Error encoding WebSocket message")
		return
	}

	b.hub.Broadcast(data)
}
