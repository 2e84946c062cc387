package reminder

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/calendar-bot/backend/internal/messaging"
	"github.com/calendar-bot/backend/internal/metrics"
	"github.com/calendar-bot/backend/internal/storage/models"
)

// DispatchError reports a reminder that could not be delivered.
type DispatchError struct {
	ReminderID string
	Room       string
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatching reminder %s to %s: %v", e.ReminderID, e.Room, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// OutOfOfficeStore reports who is out of office today.
type OutOfOfficeStore interface {
	GetOutTodayEmails(ctx context.Context) (map[string]bool, error)
}

// Notifier publishes reminder activity to live clients.
type Notifier interface {
	BroadcastReminderSent(p models.PendingReminder)
	BroadcastReminderFailed(p models.PendingReminder, err error)
	BroadcastRemindersRecomputed(pending int)
}

// Dispatcher renders due reminders and hands them to a messaging backend.
type Dispatcher struct {
	sender    messaging.Sender
	renderer  *Renderer
	directory OutOfOfficeStore
	metrics   *metrics.Metrics
	notifier  Notifier
	logger    logrus.FieldLogger
}

// NewDispatcher creates a dispatcher. directory, m and notifier may be nil.
func NewDispatcher(
	sender messaging.Sender,
	identities *IdentityCache,
	directory OutOfOfficeStore,
	m *metrics.Metrics,
	notifier Notifier,
	logger logrus.FieldLogger,
) *Dispatcher {
	return &Dispatcher{
		sender:    sender,
		renderer:  NewRenderer(sender, identities),
		directory: directory,
		metrics:   m,
		notifier:  notifier,
		logger:    logger,
	}
}

// DispatchAll delivers each reminder in order. Failures are logged and do not
// stop the remaining reminders; nothing is retried. It returns the number delivered.
func (d *Dispatcher) DispatchAll(ctx context.Context, due []models.PendingReminder) int {
	if len(due) == 0 {
		return 0
	}
	outToday := d.outToday(ctx)

	sent := 0
	for _, p := range due {
		log := d.logger.WithFields(logrus.Fields{
			"reminder_id": p.ReminderID,
			"event_uid":   p.EventUID,
			"room":        p.Room,
			"occurs_at":   p.OccursAt,
		})

		err := d.Dispatch(ctx, p, outToday)
		d.metrics.ObserveDispatch(err)
		if err != nil {
			log.WithError(err).Error("Failed to send reminder")
			if d.notifier != nil {
				d.notifier.BroadcastReminderFailed(p, err)
			}
			continue
		}

		sent++
		log.Info("Sent reminder")
		if d.notifier != nil {
			d.notifier.BroadcastReminderSent(p)
		}
	}
	return sent
}

// Dispatch joins the reminder's room, renders its message and sends it.
func (d *Dispatcher) Dispatch(ctx context.Context, p models.PendingReminder, outToday map[string]bool) error {
	roomID, err := d.sender.JoinRoom(ctx, p.Room)
	if err != nil {
		return &DispatchError{ReminderID: p.ReminderID, Room: p.Room, Err: err}
	}

	body, err := d.renderer.Render(p, outToday)
	if err != nil {
		return &DispatchError{ReminderID: p.ReminderID, Room: p.Room, Err: err}
	}

	if err := d.sender.SendMessage(ctx, roomID, body); err != nil {
		return &DispatchError{ReminderID: p.ReminderID, Room: p.Room, Err: err}
	}
	return nil
}

// outToday loads the out-of-office list once per pass. When it cannot be
// loaded, nobody is filtered.
func (d *Dispatcher) outToday(ctx context.Context) map[string]bool {
	if d.directory == nil {
		return nil
	}
	emails, err := d.directory.GetOutTodayEmails(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("Failed to load out-of-office list")
		return nil
	}
	return emails
}
