package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/calendar-bot/backend/internal/api/middleware"
	"github.com/calendar-bot/backend/internal/calendar"
)

// SyncTrigger starts calendar syncs in the background.
type SyncTrigger interface {
	TriggerSync(ctx context.Context, calendarID string) error
	TriggerSyncAll()
}

// SyncAcceptedResponse acknowledges a queued sync.
type SyncAcceptedResponse struct {
	Status     string `json:"status"`
	CalendarID string `json:"calendar_id,omitempty"`
}

// SyncCalendar triggers an immediate sync of one calendar, typically after
// its URL or credentials were edited.
func SyncCalendar(trigger SyncTrigger, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if err := trigger.TriggerSync(r.Context(), id); err != nil {
			if errors.Is(err, calendar.ErrCalendarNotFound) {
				middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Calendar not found")
				return
			}
			logger.WithError(err).WithField("calendar_id", id).Error("Failed to trigger calendar sync")
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to trigger sync")
			return
		}

		middleware.WriteJSON(w, http.StatusAccepted, SyncAcceptedResponse{Status: "sync_started", CalendarID: id})
	}
}

// SyncAllCalendars triggers a sync of every enabled calendar.
func SyncAllCalendars(trigger SyncTrigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trigger.TriggerSyncAll()
		middleware.WriteJSON(w, http.StatusAccepted, SyncAcceptedResponse{Status: "sync_started"})
	}
}
