package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/calendar-bot/backend/internal/api/middleware"
	"github.com/calendar-bot/backend/internal/storage/models"
)

// PendingLister lists the queued reminders in fire order.
type PendingLister interface {
	Pending() []models.PendingReminder
}

// Recomputer rebuilds the reminder queue.
type Recomputer interface {
	Recompute(ctx context.Context) error
}

// RecomputeResponse reports the queue size after a recompute.
type RecomputeResponse struct {
	Pending int `json:"pending"`
}

// RecomputeReminders rebuilds the reminder queue. It is called after any
// reminder is created, updated or deleted.
func RecomputeReminders(recomputer Recomputer, queue PendingLister, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := recomputer.Recompute(r.Context()); err != nil {
			logger.WithError(err).Error("Failed to recompute reminders")
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to recompute reminders")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, RecomputeResponse{Pending: len(queue.Pending())})
	}
}

// ListPendingReminders returns the queued reminders in fire order.
func ListPendingReminders(queue PendingLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending := queue.Pending()
		if pending == nil {
			pending = []models.PendingReminder{}
		}
		middleware.WriteJSON(w, http.StatusOK, pending)
	}
}
