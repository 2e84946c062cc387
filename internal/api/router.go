// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/calendar-bot/backend/internal/api/handlers"
	"github.com/calendar-bot/backend/internal/api/middleware"
)

// Reminders is the reminder scheduler as seen by the API.
type Reminders interface {
	handlers.Recomputer
	handlers.PendingLister
}

// CalendarScheduler is the calendar scheduler as seen by the API.
type CalendarScheduler interface {
	handlers.SyncTrigger
	handlers.ScheduleLister
}

// Deps are the components the router serves.
type Deps struct {
	DB        handlers.Pinger
	Calendars handlers.Counter
	Reminders handlers.Counter
	Hub       handlers.ClientCounter
	Upgrade   http.HandlerFunc
	Scheduler CalendarScheduler
	Queue     Reminders
	Metrics   http.Handler
	Logger    logrus.FieldLogger
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = middleware.MethodNotAllowed()

	// Apply global middleware
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.ErrorRecovery(d.Logger))

	// API subrouter
	api := r.PathPrefix("/api").Subrouter()
	api.MethodNotAllowedHandler = middleware.MethodNotAllowed()

	// Health and status endpoints
	api.HandleFunc("/health", handlers.HealthCheck(d.DB)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(handlers.StatusSources{
		Calendars: d.Calendars,
		Reminders: d.Reminders,
		Queue:     d.Queue,
		Scheduler: d.Scheduler,
		Clients:   d.Hub,
	})).Methods("GET")

	// WebSocket endpoint
	if d.Upgrade != nil {
		api.HandleFunc("/ws", d.Upgrade).Methods("GET")
	}

	// Calendar sync endpoints
	api.HandleFunc("/calendars/sync", handlers.SyncAllCalendars(d.Scheduler)).Methods("POST")
	api.HandleFunc("/calendars/{id}/sync", handlers.SyncCalendar(d.Scheduler, d.Logger)).Methods("POST")

	// Reminder queue endpoints
	api.HandleFunc("/reminders/recompute", handlers.RecomputeReminders(d.Queue, d.Queue, d.Logger)).Methods("POST")
	api.HandleFunc("/reminders/pending", handlers.ListPendingReminders(d.Queue)).Methods("GET")

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics).Methods("GET")
	}

	return r
}
