package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/calendar-bot/backend/internal/storage/models"
)

// Queryable represents a database connection that can execute queries.
// Both *sql.DB and *sql.Tx implement this interface.
type Queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BaseRepository provides common functionality for all repositories.
type BaseRepository struct {
	db  *DB
	now func() time.Time
}

// NewBaseRepository creates a new base repository with the given database connection.
func NewBaseRepository(db *DB) BaseRepository {
	return BaseRepository{db: db, now: time.Now}
}

// DB returns the underlying database connection.
func (r *BaseRepository) DB() *DB {
	return r.db
}

// Now returns the current time in UTC for database timestamps.
func (r *BaseRepository) Now() time.Time {
	return r.now().UTC()
}

// exec runs a statement after rebinding placeholders for the active driver.
func (r *BaseRepository) exec(ctx context.Context, q Queryable, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, r.db.Rebind(query), args...)
}

func (r *BaseRepository) query(ctx context.Context, q Queryable, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, r.db.Rebind(query), args...)
}

func (r *BaseRepository) queryRow(ctx context.Context, q Queryable, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, r.db.Rebind(query), args...)
}

// GenerateID creates a new random UUID for use as a primary key.
func GenerateID() string {
	return uuid.NewString()
}

func encodeAttendees(attendees []models.Attendee) (string, error) {
	if attendees == nil {
		attendees = []models.Attendee{}
	}
	data, err := json.Marshal(attendees)
	if err != nil {
		return "", fmt.Errorf("encoding attendees: %w", err)
	}
	return string(data), nil
}

func decodeAttendees(raw string) ([]models.Attendee, error) {
	var attendees []models.Attendee
	if raw == "" {
		return attendees, nil
	}
	if err := json.Unmarshal([]byte(raw), &attendees); err != nil {
		return nil, fmt.Errorf("decoding attendees: %w", err)
	}
	return attendees, nil
}

// rowsAffected maps a zero-row mutation to ErrNotFound.
func rowsAffected(result sql.Result, what, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
