// Package models contains the domain models for the application.
package models

import (
	"fmt"
	"time"
)

// AuthKind selects how requests against a calendar feed are authenticated.
type AuthKind string

// Authentication kinds
const (
	AuthNone   AuthKind = "none"
	AuthBasic  AuthKind = "basic"
	AuthBearer AuthKind = "bearer"
)

// CalendarAuth holds the credentials used to fetch a calendar feed.
type CalendarAuth struct {
	Kind     AuthKind `json:"kind"`
	UserName string   `json:"user_name,omitempty"`
	Password string   `json:"-"`
	Token    string   `json:"-"`
}

// String never includes the secret part of the credentials.
func (a CalendarAuth) String() string {
	switch a.Kind {
	case AuthBasic:
		return fmt.Sprintf("basic(%s:<redacted>)", a.UserName)
	case AuthBearer:
		return "bearer(<redacted>)"
	default:
		return string(AuthNone)
	}
}

// GoString keeps credentials out of %#v output too.
func (a CalendarAuth) GoString() string {
	return a.String()
}

// CalendarSource is a remote CalDAV collection owned by a single user.
type CalendarSource struct {
	ID              string       `json:"id"`
	UserID          string       `json:"user_id"`
	Name            string       `json:"name"`
	URL             string       `json:"url"`
	Auth            CalendarAuth `json:"auth"`
	SyncIntervalMin int          `json:"sync_interval_min"`
	LastSyncAt      *time.Time   `json:"last_sync_at,omitempty"`
	SyncStatus      string       `json:"sync_status"`
	SyncError       *string      `json:"sync_error,omitempty"`
	Enabled         bool         `json:"enabled"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// SyncStatus constants
const (
	SyncStatusPending = "pending"
	SyncStatusSyncing = "syncing"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// CalendarSyncResult contains the results of a calendar sync operation.
type CalendarSyncResult struct {
	CalendarID       string    `json:"calendar_id"`
	CalendarName     string    `json:"calendar_name"`
	DocumentsFetched int       `json:"documents_fetched"`
	EventsFound      int       `json:"events_found"`
	InstancesWritten int       `json:"instances_written"`
	RemindersPorted  int       `json:"reminders_ported"`
	Error            error     `json:"-"`
	SyncedAt         time.Time `json:"synced_at"`
}
