package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/calendar-bot/backend/internal/storage/models"
)

// CalendarRepository provides data access for CalDAV calendar sources.
type CalendarRepository struct {
	BaseRepository
}

// NewCalendarRepository creates a new calendar repository.
func NewCalendarRepository(db *DB) *CalendarRepository {
	return &CalendarRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const calendarColumns = `id, user_id, name, url, auth_kind, auth_user_name, auth_password, auth_token,
		       sync_interval_min, last_sync_at, sync_status, sync_error, enabled, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCalendar(s scanner) (*models.CalendarSource, error) {
	var (
		cal      models.CalendarSource
		authKind string
	)
	if err := s.Scan(
		&cal.ID, &cal.UserID, &cal.Name, &cal.URL,
		&authKind, &cal.Auth.UserName, &cal.Auth.Password, &cal.Auth.Token,
		&cal.SyncIntervalMin, &cal.LastSyncAt, &cal.SyncStatus, &cal.SyncError,
		&cal.Enabled, &cal.CreatedAt, &cal.UpdatedAt,
	); err != nil {
		return nil, err
	}
	cal.Auth.Kind = models.AuthKind(authKind)
	return &cal, nil
}

// Create inserts a new calendar source.
func (r *CalendarRepository) Create(ctx context.Context, cal *models.CalendarSource) error {
	if cal.ID == "" {
		cal.ID = GenerateID()
	}
	if cal.Auth.Kind == "" {
		cal.Auth.Kind = models.AuthNone
	}
	cal.CreatedAt = r.Now()
	cal.UpdatedAt = cal.CreatedAt
	cal.SyncStatus = models.SyncStatusPending

	_, err := r.exec(ctx, r.DB(), `
		INSERT INTO calendars (
			id, user_id, name, url, auth_kind, auth_user_name, auth_password, auth_token,
			sync_interval_min, sync_status, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cal.ID, cal.UserID, cal.Name, cal.URL,
		string(cal.Auth.Kind), cal.Auth.UserName, cal.Auth.Password, cal.Auth.Token,
		cal.SyncIntervalMin, cal.SyncStatus, cal.Enabled, cal.CreatedAt, cal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting calendar: %w", err)
	}

	return nil
}

// GetByID retrieves a calendar by its ID. It returns nil, nil when no calendar matches.
func (r *CalendarRepository) GetByID(ctx context.Context, id string) (*models.CalendarSource, error) {
	cal, err := scanCalendar(r.queryRow(ctx, r.DB(),
		`SELECT `+calendarColumns+` FROM calendars WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying calendar: %w", err)
	}

	return cal, nil
}

// List retrieves all calendar sources.
func (r *CalendarRepository) List(ctx context.Context) ([]models.CalendarSource, error) {
	return r.list(ctx, `SELECT `+calendarColumns+` FROM calendars ORDER BY name`)
}

// ListEnabled retrieves the calendar sources that take part in syncing,
// least recently synced first.
func (r *CalendarRepository) ListEnabled(ctx context.Context) ([]models.CalendarSource, error) {
	return r.list(ctx, `
		SELECT `+calendarColumns+`
		FROM calendars
		WHERE enabled = ?
		ORDER BY last_sync_at IS NOT NULL, last_sync_at ASC
	`, true)
}

func (r *CalendarRepository) list(ctx context.Context, query string, args ...any) ([]models.CalendarSource, error) {
	rows, err := r.query(ctx, r.DB(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying calendars: %w", err)
	}
	defer rows.Close()

	var calendars []models.CalendarSource
	for rows.Next() {
		cal, err := scanCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning calendar: %w", err)
		}
		calendars = append(calendars, *cal)
	}

	return calendars, rows.Err()
}

// Update updates an existing calendar's editable fields.
func (r *CalendarRepository) Update(ctx context.Context, cal *models.CalendarSource) error {
	cal.UpdatedAt = r.Now()

	result, err := r.exec(ctx, r.DB(), `
		UPDATE calendars SET
			name = ?, url = ?, auth_kind = ?, auth_user_name = ?, auth_password = ?, auth_token = ?,
			sync_interval_min = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`,
		cal.Name, cal.URL, string(cal.Auth.Kind), cal.Auth.UserName, cal.Auth.Password, cal.Auth.Token,
		cal.SyncIntervalMin, cal.Enabled, cal.UpdatedAt, cal.ID,
	)
	if err != nil {
		return fmt.Errorf("updating calendar: %w", err)
	}

	return rowsAffected(result, "calendar", cal.ID)
}

// UpdateSyncStatus records the outcome of the latest sync attempt.
func (r *CalendarRepository) UpdateSyncStatus(ctx context.Context, id string, status string, syncError *string) error {
	now := r.Now()
	var lastSyncAt *time.Time
	if status == models.SyncStatusSuccess {
		lastSyncAt = &now
	}

	_, err := r.exec(ctx, r.DB(), `
		UPDATE calendars SET
			sync_status = ?, sync_error = ?, last_sync_at = COALESCE(?, last_sync_at), updated_at = ?
		WHERE id = ?
	`, status, syncError, lastSyncAt, now, id)
	if err != nil {
		return fmt.Errorf("updating sync status: %w", err)
	}

	return nil
}

// Delete removes a calendar and, through cascading keys, its events, instances and reminders.
func (r *CalendarRepository) Delete(ctx context.Context, id string) error {
	result, err := r.exec(ctx, r.DB(), "DELETE FROM calendars WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting calendar: %w", err)
	}

	return rowsAffected(result, "calendar", id)
}

// Count returns the number of stored calendars.
func (r *CalendarRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.queryRow(ctx, r.DB(), "SELECT COUNT(*) FROM calendars").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting calendars: %w", err)
	}
	return n, nil
}
