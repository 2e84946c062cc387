package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calendar-bot/backend/internal/metrics"
	"github.com/calendar-bot/backend/internal/storage/models"
)

// CalendarStore is the calendar persistence the sync service needs.
type CalendarStore interface {
	GetByID(ctx context.Context, id string) (*models.CalendarSource, error)
	ListEnabled(ctx context.Context) ([]models.CalendarSource, error)
	UpdateSyncStatus(ctx context.Context, id string, status string, syncError *string) error
}

// EventStore is the event persistence the sync service needs.
type EventStore interface {
	GetPreviousInstances(ctx context.Context, calendarID string) ([]models.EventWithInstances, error)
	UpsertEventsAndReplaceInstances(ctx context.Context, calendarID string, events []models.BaseEvent, instances []models.EventInstance) error
}

// Fetcher retrieves raw calendar documents for a source.
type Fetcher interface {
	FetchOccurrences(ctx context.Context, feedURL string, auth models.CalendarAuth, windowStart time.Time) ([]RawDocument, error)
}

// Recomputer rebuilds the reminder queue from persisted state.
type Recomputer interface {
	Recompute(ctx context.Context) error
}

// SyncOptions tunes a SyncService. Zero values select defaults.
type SyncOptions struct {
	Window   Window
	Lookback time.Duration
	Matcher  ReplacementMatcher
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// SyncService fetches, expands, deduplicates and stores calendars.
type SyncService struct {
	calendars  CalendarStore
	events     EventStore
	fetcher    Fetcher
	expander   *Expander
	dedup      *Deduplicator
	recomputer Recomputer
	metrics    *metrics.Metrics
	logger     logrus.FieldLogger
	lookback   time.Duration
	now        func() time.Time

	// Serializes syncs of the same calendar
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewSyncService creates a new calendar sync service.
func NewSyncService(
	calendars CalendarStore,
	events EventStore,
	reminders ReminderStore,
	fetcher Fetcher,
	recomputer Recomputer,
	logger logrus.FieldLogger,
	opts SyncOptions,
) *SyncService {
	if opts.Window == (Window{}) {
		opts.Window = DefaultWindow
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 180 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &SyncService{
		calendars:  calendars,
		events:     events,
		fetcher:    fetcher,
		expander:   NewExpander(opts.Window, logger),
		dedup:      NewDeduplicator(opts.Matcher, reminders, logger),
		recomputer: recomputer,
		metrics:    opts.Metrics,
		logger:     logger,
		lookback:   opts.Lookback,
		now:        opts.Now,
		locks:      make(map[string]*sync.Mutex),
	}
}

// SyncCalendarByID looks a calendar up and synchronizes it.
func (s *SyncService) SyncCalendarByID(ctx context.Context, calendarID string) (*models.CalendarSyncResult, error) {
	source, err := s.calendars.GetByID(ctx, calendarID)
	if err != nil {
		return nil, fmt.Errorf("getting calendar: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: %s", ErrCalendarNotFound, calendarID)
	}
	return s.SyncCalendar(ctx, *source)
}

// SyncCalendar runs one sync pass for source and then rebuilds the reminder queue.
func (s *SyncService) SyncCalendar(ctx context.Context, source models.CalendarSource) (*models.CalendarSyncResult, error) {
	result, err := s.syncCalendar(ctx, source)
	if err != nil {
		return result, err
	}
	if err := s.recompute(ctx, source.ID); err != nil {
		result.Error = err
		return result, err
	}
	return result, nil
}

func (s *SyncService) syncCalendar(ctx context.Context, source models.CalendarSource) (result *models.CalendarSyncResult, err error) {
	lock := s.calendarLock(source.ID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	now := s.now()
	result = &models.CalendarSyncResult{
		CalendarID:   source.ID,
		CalendarName: source.Name,
		SyncedAt:     now.UTC(),
	}
	log := s.logger.WithField("calendar_id", source.ID)

	defer func() {
		s.metrics.ObserveSync(err, time.Since(started), result.InstancesWritten, result.RemindersPorted)
		if err == nil {
			return
		}
		result.Error = err
		msg := err.Error()
		if statusErr := s.calendars.UpdateSyncStatus(ctx, source.ID, models.SyncStatusError, &msg); statusErr != nil {
			log.WithError(statusErr).Warn("Failed to update sync status")
		}
	}()

	if err := s.calendars.UpdateSyncStatus(ctx, source.ID, models.SyncStatusSyncing, nil); err != nil {
		log.WithError(err).Warn("Failed to update sync status")
	}

	docs, err := s.fetcher.FetchOccurrences(ctx, source.URL, source.Auth, now.Add(-s.lookback))
	if err != nil {
		return result, &SyncError{Stage: StageFetch, CalendarID: source.ID, Err: err}
	}
	result.DocumentsFetched = len(docs)

	expanded := s.expander.Expand(source.ID, docs, now)
	result.EventsFound = len(expanded.Events)
	// Nothing in a non-empty feed decoded: keep the stored instances.
	if len(docs) > 0 && len(expanded.Fetched) == 0 && len(expanded.Errors) > 0 {
		return result, &SyncError{Stage: StageDecode, CalendarID: source.ID, Err: errors.Join(expanded.Errors...)}
	}

	previous, err := s.events.GetPreviousInstances(ctx, source.ID)
	if err != nil {
		return result, &SyncError{Stage: StageDedup, CalendarID: source.ID, Err: err}
	}

	ported, err := s.dedup.Reconcile(ctx, source, previous, expanded)
	result.RemindersPorted = ported
	if err != nil {
		return result, &SyncError{Stage: StageDedup, CalendarID: source.ID, Err: err}
	}

	if err := s.events.UpsertEventsAndReplaceInstances(ctx, source.ID, expanded.Events, expanded.Instances); err != nil {
		return result, &SyncError{Stage: StagePersist, CalendarID: source.ID, Err: err}
	}
	result.InstancesWritten = len(expanded.Instances)

	if err := s.calendars.UpdateSyncStatus(ctx, source.ID, models.SyncStatusSuccess, nil); err != nil {
		log.WithError(err).Warn("Failed to update sync status")
	}

	log.WithFields(logrus.Fields{
		"documents":        result.DocumentsFetched,
		"events":           result.EventsFound,
		"instances":        result.InstancesWritten,
		"reminders_ported": result.RemindersPorted,
		"skipped":          len(expanded.Errors),
	}).Info("Calendar synced")

	return result, nil
}

func (s *SyncService) recompute(ctx context.Context, calendarID string) error {
	if s.recomputer == nil {
		return nil
	}
	if err := s.recomputer.Recompute(ctx); err != nil {
		return &SyncError{Stage: StageRecompute, CalendarID: calendarID, Err: err}
	}
	return nil
}

// SyncAll synchronizes every enabled calendar. A failing calendar is logged
// and does not stop the others; the reminder queue is rebuilt once at the end.
func (s *SyncService) SyncAll(ctx context.Context) ([]models.CalendarSyncResult, error) {
	calendars, err := s.calendars.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing enabled calendars: %w", err)
	}

	var results []models.CalendarSyncResult
	for _, cal := range calendars {
		if ctx.Err() != nil {
			break
		}
		result, err := s.syncCalendar(ctx, cal)
		if err != nil {
			s.logger.WithError(err).WithField("calendar_id", cal.ID).Error("Calendar sync failed")
		}
		results = append(results, *result)
	}

	if err := s.recompute(ctx, ""); err != nil {
		s.logger.WithError(err).Error("Failed to recompute reminders after sync")
	}

	return results, ctx.Err()
}

func (s *SyncService) calendarLock(calendarID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[calendarID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[calendarID] = l
	}
	return l
}
