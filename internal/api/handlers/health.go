// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/calendar-bot/backend/internal/api/middleware"
)

// Pinger checks a backing connection.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Counter counts stored rows.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// ClientCounter reports connected live clients.
type ClientCounter interface {
	ClientCount() int
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.PingContext(r.Context()) == nil

		response := HealthResponse{Status: "healthy", DBConnected: dbConnected}
		status := http.StatusOK
		if !dbConnected {
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
		}

		middleware.WriteJSON(w, status, response)
	}
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	CalendarsCount     int    `json:"calendars_count"`
	RemindersCount     int    `json:"reminders_count"`
	PendingReminders   int    `json:"pending_reminders"`
	NextReminderAt     string `json:"next_reminder_at,omitempty"`
	ScheduledCalendars int    `json:"scheduled_calendars"`
	ConnectedClients   int    `json:"connected_clients"`

	// NextSyncs maps calendar IDs to their next scheduled sync.
	NextSyncs map[string]string `json:"next_syncs,omitempty"`
}

// StatusSources are the components the status endpoint reports on.
type StatusSources struct {
	Calendars Counter
	Reminders Counter
	Queue     PendingLister
	Scheduler ScheduleLister
	Clients   ClientCounter
}

// ScheduleLister lists calendars with an active sync schedule.
type ScheduleLister interface {
	GetScheduledCalendars() []string
	GetNextRun(calendarID string) *time.Time
}

// Status returns a handler that provides system status information.
func Status(src StatusSources) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		calendars, err := src.Calendars.Count(ctx)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to count calendars")
			return
		}
		reminders, err := src.Reminders.Count(ctx)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to count reminders")
			return
		}

		response := StatusResponse{
			CalendarsCount: calendars,
			RemindersCount: reminders,
		}
		if src.Queue != nil {
			pending := src.Queue.Pending()
			response.PendingReminders = len(pending)
			if len(pending) > 0 {
				response.NextReminderAt = pending[0].FireAt.UTC().Format("2006-01-02T15:04:05Z07:00")
			}
		}
		if src.Scheduler != nil {
			scheduled := src.Scheduler.GetScheduledCalendars()
			response.ScheduledCalendars = len(scheduled)
			for _, id := range scheduled {
				next := src.Scheduler.GetNextRun(id)
				if next == nil {
					continue
				}
				if response.NextSyncs == nil {
					response.NextSyncs = make(map[string]string, len(scheduled))
				}
				response.NextSyncs[id] = next.UTC().Format(time.RFC3339)
			}
		}
		if src.Clients != nil {
			response.ConnectedClients = src.Clients.ClientCount()
		}

		middleware.WriteJSON(w, http.StatusOK, response)
	}
}
