package calendar

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/calendar-bot/backend/internal/storage/models"
)

// Replacement pairs a previously stored event with a freshly fetched event
// believed to supersede it.
type Replacement struct {
	Previous    models.BaseEvent
	Replacement models.BaseEvent
}

// ReplacementMatcher finds events whose provider re-issued them under a new UID.
type ReplacementMatcher interface {
	Match(previous []models.EventWithInstances, fresh ExpandResult) []Replacement
}

// SummaryOrganizerMatcher pairs a closed or vanished series with new events
// that share its summary and organizer. Series whose rule is still open
// (COUNT or no end) are left alone.
type SummaryOrganizerMatcher struct{}

type matchKey struct {
	summary   string
	organizer models.Attendee
	hasOrg    bool
}

func keyOf(ev models.BaseEvent) matchKey {
	k := matchKey{summary: ev.Summary}
	if ev.Organizer != nil {
		k.organizer = *ev.Organizer
		k.hasOrg = true
	}
	return k
}

// Match implements ReplacementMatcher.
func (SummaryOrganizerMatcher) Match(previous []models.EventWithInstances, fresh ExpandResult) []Replacement {
	known := make(map[string]bool, len(previous))
	for _, p := range previous {
		known[p.Event.UID] = true
	}

	candidates := make(map[matchKey][]models.BaseEvent)
	for _, ev := range fresh.Events {
		if known[ev.UID] {
			continue
		}
		k := keyOf(ev)
		candidates[k] = append(candidates[k], ev)
	}

	var out []Replacement
	for _, p := range previous {
		if end, present := fresh.Fetched[p.Event.UID]; present && end.Open() {
			continue
		}
		for _, n := range candidates[keyOf(p.Event)] {
			if n.UID == p.Event.UID {
				continue
			}
			out = append(out, Replacement{Previous: p.Event, Replacement: n})
		}
	}
	return out
}

// ReminderStore is the reminder persistence the deduplicator needs.
type ReminderStore interface {
	GetRemindersForEvent(ctx context.Context, calendarID, eventUID string) ([]models.Reminder, error)
	AddReminder(ctx context.Context, rem *models.Reminder) error
}

// Deduplicator carries reminders over from replaced events to their replacements.
type Deduplicator struct {
	matcher   ReplacementMatcher
	reminders ReminderStore
	logger    logrus.FieldLogger
}

// NewDeduplicator creates a deduplicator using matcher to pair events.
func NewDeduplicator(matcher ReplacementMatcher, reminders ReminderStore, logger logrus.FieldLogger) *Deduplicator {
	if matcher == nil {
		matcher = SummaryOrganizerMatcher{}
	}
	return &Deduplicator{matcher: matcher, reminders: reminders, logger: logger}
}

// Reconcile clones the calendar owner's reminders from every replaced event
// onto its replacement. Originals are never modified. A clone is skipped when
// an equivalent reminder is already bound to the replacement. It returns the
// number of reminders created.
func (d *Deduplicator) Reconcile(ctx context.Context, source models.CalendarSource, previous []models.EventWithInstances, fresh ExpandResult) (int, error) {
	created := 0
	for _, pair := range d.matcher.Match(previous, fresh) {
		reminders, err := d.reminders.GetRemindersForEvent(ctx, source.ID, pair.Previous.UID)
		if err != nil {
			return created, fmt.Errorf("loading reminders of %s: %w", pair.Previous.UID, err)
		}
		if len(reminders) == 0 {
			continue
		}

		existing, err := d.reminders.GetRemindersForEvent(ctx, source.ID, pair.Replacement.UID)
		if err != nil {
			return created, fmt.Errorf("loading reminders of %s: %w", pair.Replacement.UID, err)
		}

		for _, rem := range reminders {
			if rem.UserID != source.UserID {
				continue
			}
			if hasEquivalent(existing, rem) {
				continue
			}

			clone := rem
			clone.ID = ""
			clone.EventUID = pair.Replacement.UID
			if err := d.reminders.AddReminder(ctx, &clone); err != nil {
				return created, fmt.Errorf("cloning reminder %s onto %s: %w", rem.ID, clone.EventUID, err)
			}
			existing = append(existing, clone)
			created++

			d.logger.WithFields(logrus.Fields{
				"calendar_id": source.ID,
				"reminder_id": rem.ID,
				"from_uid":    pair.Previous.UID,
				"to_uid":      pair.Replacement.UID,
			}).Info("Ported reminder to replacement event")
		}
	}
	return created, nil
}

func hasEquivalent(list []models.Reminder, rem models.Reminder) bool {
	for _, r := range list {
		if r.Equivalent(rem) {
			return true
		}
	}
	return false
}
