package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calendar-bot/backend/internal/metrics"
	"github.com/calendar-bot/backend/internal/storage/models"
)

// DefaultMaxSleep caps how long the scheduler waits between queue checks.
const DefaultMaxSleep = 5 * time.Minute

// PendingStore loads every reminder joined with its stored occurrences.
type PendingStore interface {
	GetAllPendingReminderJoins(ctx context.Context) ([]models.PendingReminder, error)
}

// DueHandler delivers reminders popped from the queue.
type DueHandler interface {
	DispatchAll(ctx context.Context, due []models.PendingReminder) int
}

// SchedulerOptions tunes a Scheduler. Zero values select defaults.
type SchedulerOptions struct {
	MaxSleep time.Duration
	Metrics  *metrics.Metrics
	Notifier Notifier
	Now      func() time.Time
}

// Scheduler sleeps until the next reminder is due, or until the queue is
// replaced, and then dispatches everything that is due.
type Scheduler struct {
	queue    *Queue
	store    PendingStore
	handler  DueHandler
	metrics  *metrics.Metrics
	notifier Notifier
	logger   logrus.FieldLogger
	maxSleep time.Duration
	now      func() time.Time

	notify chan struct{}

	// Keys handed to the dispatcher, with their fire time for pruning.
	// Held across queue replacement and popping so a popped entry is
	// either marked fired or absent from the replacement.
	firedMu sync.Mutex
	fired   map[models.FiringKey]time.Time
}

// NewScheduler creates a scheduler over an empty queue.
func NewScheduler(store PendingStore, handler DueHandler, logger logrus.FieldLogger, opts SchedulerOptions) *Scheduler {
	if opts.MaxSleep <= 0 {
		opts.MaxSleep = DefaultMaxSleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		queue:    NewQueue(),
		store:    store,
		handler:  handler,
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		logger:   logger,
		maxSleep: opts.MaxSleep,
		now:      opts.Now,
		notify:   make(chan struct{}, 1),
		fired:    make(map[models.FiringKey]time.Time),
	}
}

// Queue returns the scheduler's queue.
func (s *Scheduler) Queue() *Queue {
	return s.queue
}

// Pending returns the queued reminders in fire order.
func (s *Scheduler) Pending() []models.PendingReminder {
	return s.queue.Snapshot()
}

// Notify wakes the loop. Notifications coalesce and never block.
func (s *Scheduler) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Recompute rebuilds the queue from the store. Fire times already in the past
// and occurrences that were already dispatched are left out.
func (s *Scheduler) Recompute(ctx context.Context) error {
	pending, err := s.store.GetAllPendingReminderJoins(ctx)
	if err != nil {
		return fmt.Errorf("loading pending reminders: %w", err)
	}

	now := s.now()
	s.firedMu.Lock()
	for key, fireAt := range s.fired {
		if fireAt.Before(now) {
			delete(s.fired, key)
		}
	}
	entries := make([]models.PendingReminder, 0, len(pending))
	for _, p := range pending {
		if p.FireAt.Before(now) {
			continue
		}
		if _, done := s.fired[p.Key()]; done {
			continue
		}
		entries = append(entries, p)
	}
	s.queue.Replace(entries)
	s.firedMu.Unlock()

	s.metrics.SetQueueLength(len(entries))
	s.logger.WithField("pending", len(entries)).Info("Recomputed reminder queue")
	if s.notifier != nil {
		s.notifier.BroadcastRemindersRecomputed(len(entries))
	}

	s.Notify()
	return nil
}

// Run drives the scheduler until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Starting reminder scheduler")
	for {
		wait := s.maxSleep
		if next, ok := s.queue.TimeToNext(s.now()); ok && next < wait {
			wait = next
		}

		if wait > 0 {
			s.logger.WithField("sleep", wait.String()).Debug("Waiting for next reminder")
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("Reminder scheduler stopped")
				return ctx.Err()
			case <-timer.C:
			case <-s.notify:
				timer.Stop()
			}
		}
		if ctx.Err() != nil {
			s.logger.Info("Reminder scheduler stopped")
			return ctx.Err()
		}

		s.dispatchDue(ctx)
	}
}

func (s *Scheduler) dispatchDue(ctx context.Context) {
	s.firedMu.Lock()
	due := s.queue.PopDue(s.now())
	for _, p := range due {
		s.fired[p.Key()] = p.FireAt
	}
	s.firedMu.Unlock()

	s.metrics.SetQueueLength(s.queue.Len())
	if len(due) == 0 {
		return
	}

	s.logger.WithField("count", len(due)).Info("Dispatching due reminders")
	s.handler.DispatchAll(ctx, due)
}
