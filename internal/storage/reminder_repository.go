package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/calendar-bot/backend/internal/storage/models"
)

// ReminderRepository provides data access for reminders.
type ReminderRepository struct {
	BaseRepository
}

// NewReminderRepository creates a new reminder repository.
func NewReminderRepository(db *DB) *ReminderRepository {
	return &ReminderRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const reminderColumns = `id, calendar_id, user_id, event_uid, minutes_before, room, template,
		       attendee_editable, created_at, updated_at`

func scanReminder(s scanner) (*models.Reminder, error) {
	var (
		rem      models.Reminder
		template sql.NullString
	)
	if err := s.Scan(
		&rem.ID, &rem.CalendarID, &rem.UserID, &rem.EventUID, &rem.MinutesBefore, &rem.Room,
		&template, &rem.AttendeeEditable, &rem.CreatedAt, &rem.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if template.Valid {
		rem.Template = &template.String
	}
	return &rem, nil
}

// AddReminder inserts a reminder. Any placeholder ID is replaced by a generated one.
func (r *ReminderRepository) AddReminder(ctx context.Context, rem *models.Reminder) error {
	rem.ID = GenerateID()
	rem.CreatedAt = r.Now()
	rem.UpdatedAt = rem.CreatedAt

	_, err := r.exec(ctx, r.DB(), `
		INSERT INTO reminders (
			id, calendar_id, user_id, event_uid, minutes_before, room, template,
			attendee_editable, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rem.ID, rem.CalendarID, rem.UserID, rem.EventUID, rem.MinutesBefore, rem.Room, rem.Template,
		rem.AttendeeEditable, rem.CreatedAt, rem.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting reminder: %w", err)
	}

	return nil
}

// GetByID retrieves a reminder by its ID. It returns nil, nil when no reminder matches.
func (r *ReminderRepository) GetByID(ctx context.Context, id string) (*models.Reminder, error) {
	rem, err := scanReminder(r.queryRow(ctx, r.DB(),
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying reminder: %w", err)
	}
	return rem, nil
}

// GetRemindersForEvent returns every reminder bound to an event of a calendar.
func (r *ReminderRepository) GetRemindersForEvent(ctx context.Context, calendarID, eventUID string) ([]models.Reminder, error) {
	rows, err := r.query(ctx, r.DB(), `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE calendar_id = ? AND event_uid = ?
		ORDER BY created_at, id
	`, calendarID, eventUID)
	if err != nil {
		return nil, fmt.Errorf("querying reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reminder: %w", err)
		}
		reminders = append(reminders, *rem)
	}

	return reminders, rows.Err()
}

// Update changes a reminder's editable fields.
func (r *ReminderRepository) Update(ctx context.Context, rem *models.Reminder) error {
	rem.UpdatedAt = r.Now()

	result, err := r.exec(ctx, r.DB(), `
		UPDATE reminders SET
			event_uid = ?, minutes_before = ?, room = ?, template = ?, attendee_editable = ?, updated_at = ?
		WHERE id = ?
	`,
		rem.EventUID, rem.MinutesBefore, rem.Room, rem.Template, rem.AttendeeEditable, rem.UpdatedAt, rem.ID,
	)
	if err != nil {
		return fmt.Errorf("updating reminder: %w", err)
	}

	return rowsAffected(result, "reminder", rem.ID)
}

// Delete removes a reminder by ID.
func (r *ReminderRepository) Delete(ctx context.Context, id string) error {
	result, err := r.exec(ctx, r.DB(), "DELETE FROM reminders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting reminder: %w", err)
	}

	return rowsAffected(result, "reminder", id)
}

// Count returns the number of stored reminders.
func (r *ReminderRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.queryRow(ctx, r.DB(), "SELECT COUNT(*) FROM reminders").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting reminders: %w", err)
	}
	return n, nil
}
