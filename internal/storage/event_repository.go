package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/calendar-bot/backend/internal/storage/models"
)

// EventRepository stores base events and their expanded occurrences.
type EventRepository struct {
	BaseRepository
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// GetPreviousInstances returns the events of a calendar that currently have
// stored occurrences, each with its occurrences in time order.
func (r *EventRepository) GetPreviousInstances(ctx context.Context, calendarID string) ([]models.EventWithInstances, error) {
	rows, err := r.query(ctx, r.DB(), `
		SELECT e.event_uid, e.summary, e.description, e.location, e.organizer_email, e.organizer_name,
		       e.attendees, e.recurrence_end, i.occurs_at, i.utc_offset, i.attendees
		FROM events e
		JOIN event_instances i ON i.calendar_id = e.calendar_id AND i.event_uid = e.event_uid
		WHERE e.calendar_id = ?
		ORDER BY e.event_uid, i.occurs_at
	`, calendarID)
	if err != nil {
		return nil, fmt.Errorf("querying previous instances: %w", err)
	}
	defer rows.Close()

	var (
		result []models.EventWithInstances
		index  = make(map[string]int)
	)
	for rows.Next() {
		var (
			ev                models.BaseEvent
			orgEmail, orgName sql.NullString
			eventAtt, instAtt string
			recurrenceEnd     string
			occursAt          time.Time
			offset            int
		)
		if err := rows.Scan(
			&ev.UID, &ev.Summary, &ev.Description, &ev.Location, &orgEmail, &orgName,
			&eventAtt, &recurrenceEnd, &occursAt, &offset, &instAtt,
		); err != nil {
			return nil, fmt.Errorf("scanning previous instance: %w", err)
		}

		i, seen := index[ev.UID]
		if !seen {
			ev.CalendarID = calendarID
			ev.RecurrenceEnd = models.RecurrenceEnd(recurrenceEnd)
			if orgEmail.Valid {
				ev.Organizer = &models.Attendee{Email: orgEmail.String, CommonName: orgName.String}
			}
			if ev.Attendees, err = decodeAttendees(eventAtt); err != nil {
				return nil, err
			}
			i = len(result)
			index[ev.UID] = i
			result = append(result, models.EventWithInstances{Event: ev})
		}

		attendees, err := decodeAttendees(instAtt)
		if err != nil {
			return nil, err
		}
		result[i].Instances = append(result[i].Instances, models.EventInstance{
			EventUID:  ev.UID,
			Time:      restoreOffset(occursAt, offset),
			Attendees: attendees,
		})
	}

	return result, rows.Err()
}

// UpsertEventsAndReplaceInstances writes the events of one sync pass and
// replaces every stored occurrence of the calendar, in a single transaction.
func (r *EventRepository) UpsertEventsAndReplaceInstances(ctx context.Context, calendarID string, events []models.BaseEvent, instances []models.EventInstance) error {
	return r.DB().Transaction(ctx, func(tx *sql.Tx) error {
		for _, ev := range events {
			if err := r.upsertEvent(ctx, tx, calendarID, ev); err != nil {
				return err
			}
		}

		if _, err := r.exec(ctx, tx, "DELETE FROM event_instances WHERE calendar_id = ?", calendarID); err != nil {
			return fmt.Errorf("deleting instances: %w", err)
		}

		for _, inst := range instances {
			attendees, err := encodeAttendees(inst.Attendees)
			if err != nil {
				return err
			}
			_, offset := inst.Time.Zone()
			if _, err := r.exec(ctx, tx, `
				INSERT INTO event_instances (calendar_id, event_uid, occurs_at, utc_offset, attendees)
				VALUES (?, ?, ?, ?, ?)
			`, calendarID, inst.EventUID, inst.Time.UTC(), offset, attendees); err != nil {
				return fmt.Errorf("inserting instance of %s: %w", inst.EventUID, err)
			}
		}

		return nil
	})
}

func (r *EventRepository) upsertEvent(ctx context.Context, q Queryable, calendarID string, ev models.BaseEvent) error {
	attendees, err := encodeAttendees(ev.Attendees)
	if err != nil {
		return err
	}

	var orgEmail, orgName sql.NullString
	if ev.Organizer != nil {
		orgEmail = sql.NullString{String: ev.Organizer.Email, Valid: true}
		orgName = sql.NullString{String: ev.Organizer.CommonName, Valid: true}
	}
	end := ev.RecurrenceEnd
	if end == "" {
		end = models.RecurrenceNone
	}

	_, err = r.exec(ctx, q, `
		INSERT INTO events (
			calendar_id, event_uid, summary, description, location,
			organizer_email, organizer_name, attendees, recurrence_end
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (calendar_id, event_uid) DO UPDATE SET
			summary = excluded.summary,
			description = excluded.description,
			location = excluded.location,
			organizer_email = excluded.organizer_email,
			organizer_name = excluded.organizer_name,
			attendees = excluded.attendees,
			recurrence_end = excluded.recurrence_end
	`, calendarID, ev.UID, ev.Summary, ev.Description, ev.Location,
		orgEmail, orgName, attendees, string(end))
	if err != nil {
		return fmt.Errorf("upserting event %s: %w", ev.UID, err)
	}
	return nil
}

// GetAllPendingReminderJoins joins every reminder with each stored occurrence
// of its event. Fire times are occurrence minus the reminder offset; the result
// is ordered by fire time and includes entries that are already due.
func (r *EventRepository) GetAllPendingReminderJoins(ctx context.Context) ([]models.PendingReminder, error) {
	rows, err := r.query(ctx, r.DB(), `
		SELECT r.id, r.calendar_id, r.user_id, r.event_uid, r.minutes_before, r.room, r.template,
		       e.summary, e.description, e.location, i.occurs_at, i.utc_offset, i.attendees
		FROM reminders r
		JOIN events e ON e.calendar_id = r.calendar_id AND e.event_uid = r.event_uid
		JOIN event_instances i ON i.calendar_id = r.calendar_id AND i.event_uid = r.event_uid
	`)
	if err != nil {
		return nil, fmt.Errorf("querying pending reminders: %w", err)
	}
	defer rows.Close()

	var pending []models.PendingReminder
	for rows.Next() {
		var (
			p        models.PendingReminder
			template sql.NullString
			occursAt time.Time
			offset   int
			attRaw   string
		)
		if err := rows.Scan(
			&p.ReminderID, &p.CalendarID, &p.UserID, &p.EventUID, &p.MinutesBefore, &p.Room, &template,
			&p.Summary, &p.Description, &p.Location, &occursAt, &offset, &attRaw,
		); err != nil {
			return nil, fmt.Errorf("scanning pending reminder: %w", err)
		}
		if template.Valid {
			p.Template = &template.String
		}
		if p.Attendees, err = decodeAttendees(attRaw); err != nil {
			return nil, err
		}
		p.OccursAt = restoreOffset(occursAt, offset)
		p.FireAt = p.OccursAt.Add(-time.Duration(p.MinutesBefore) * time.Minute)
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].FireAt.Before(pending[j].FireAt)
	})
	return pending, nil
}

// CountInstances returns the number of stored occurrences for a calendar.
func (r *EventRepository) CountInstances(ctx context.Context, calendarID string) (int, error) {
	var n int
	err := r.queryRow(ctx, r.DB(), "SELECT COUNT(*) FROM event_instances WHERE calendar_id = ?", calendarID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting instances: %w", err)
	}
	return n, nil
}

func restoreOffset(t time.Time, offset int) time.Time {
	if offset == 0 {
		return t.UTC()
	}
	return t.In(time.FixedZone("", offset))
}
