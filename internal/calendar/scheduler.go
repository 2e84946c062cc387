package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/calendar-bot/backend/internal/storage/models"
)

// Broadcaster publishes sync outcomes to live clients.
type Broadcaster interface {
	BroadcastCalendarSyncCompleted(result models.CalendarSyncResult)
	BroadcastCalendarSyncError(calendarID, calendarName string, err error)
}

type scheduledJob struct {
	entryID     cron.EntryID
	intervalMin int
}

// Scheduler manages periodic calendar sync jobs and other background jobs.
type Scheduler struct {
	cron        *cron.Cron
	syncService *SyncService
	calendars   CalendarStore
	broadcaster Broadcaster
	logger      logrus.FieldLogger

	// Track jobs per calendar
	jobs   map[string]scheduledJob
	jobsMu sync.RWMutex

	// Default sync interval if calendar doesn't specify
	defaultIntervalMin int

	ctx    context.Context
	cancel context.CancelFunc
	// stopMu orders background goroutine starts against Stop.
	stopMu sync.Mutex
	wg     sync.WaitGroup
}

// NewScheduler creates a new calendar sync scheduler.
func NewScheduler(
	syncService *SyncService,
	calendars CalendarStore,
	broadcaster Broadcaster,
	logger logrus.FieldLogger,
	defaultIntervalMin int,
) *Scheduler {
	if defaultIntervalMin <= 0 {
		defaultIntervalMin = 5
	}

	cronLogger := cron.PrintfLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		syncService:        syncService,
		calendars:          calendars,
		broadcaster:        broadcaster,
		logger:             logger,
		jobs:               make(map[string]scheduledJob),
		defaultIntervalMin: defaultIntervalMin,
		ctx:                ctx,
		cancel:             cancel,
	}
}

// Start schedules all enabled calendars, starts the cron runner and kicks off
// an initial sync of everything.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting calendar sync scheduler")

	calendars, err := s.calendars.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("listing calendars: %w", err)
	}
	for _, cal := range calendars {
		s.ScheduleCalendar(cal)
	}

	// Picks up calendars added, edited or disabled through other paths
	if _, err := s.cron.AddFunc("@every 5m", func() {
		s.refreshSchedules(s.ctx)
	}); err != nil {
		return fmt.Errorf("scheduling refresh: %w", err)
	}

	s.cron.Start()
	s.logger.WithField("calendars", len(calendars)).Info("Calendar scheduler started")

	s.TriggerSyncAll()
	return nil
}

// Stop cancels in-flight work and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping calendar sync scheduler")
	s.stopMu.Lock()
	s.cancel()
	s.stopMu.Unlock()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("Calendar scheduler stopped")
}

// AddPeriodic runs fn every interval on the scheduler's cron runner.
// Failures are logged; the job keeps its schedule.
func (s *Scheduler) AddPeriodic(name string, every time.Duration, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc("@every "+every.String(), func() {
		if err := fn(s.ctx); err != nil {
			s.logger.WithError(err).WithField("job", name).Error("Periodic job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", name, err)
	}
	return nil
}

// ScheduleCalendar adds or updates a calendar's sync schedule.
func (s *Scheduler) ScheduleCalendar(cal models.CalendarSource) {
	if !cal.Enabled {
		s.UnscheduleCalendar(cal.ID)
		return
	}

	interval := cal.SyncIntervalMin
	if interval < 1 {
		interval = s.defaultIntervalMin
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if existing, exists := s.jobs[cal.ID]; exists {
		if existing.intervalMin == interval {
			return
		}
		s.cron.Remove(existing.entryID)
		delete(s.jobs, cal.ID)
	}

	calendarID := cal.ID
	entryID, err := s.cron.AddFunc(minutesToCronSpec(interval), func() {
		s.syncCalendar(s.ctx, calendarID)
	})
	if err != nil {
		s.logger.WithError(err).WithField("calendar_id", cal.ID).Error("Failed to schedule calendar")
		return
	}

	s.jobs[cal.ID] = scheduledJob{entryID: entryID, intervalMin: interval}
	s.logger.WithFields(logrus.Fields{"calendar_id": cal.ID, "interval_min": interval}).Info("Scheduled calendar")
}

// UnscheduleCalendar removes a calendar from the sync schedule.
func (s *Scheduler) UnscheduleCalendar(calendarID string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if job, exists := s.jobs[calendarID]; exists {
		s.cron.Remove(job.entryID)
		delete(s.jobs, calendarID)
		s.logger.WithField("calendar_id", calendarID).Info("Unscheduled calendar")
	}
}

// TriggerSync immediately syncs a calendar in the background, typically after
// its URL or credentials were edited. Unknown calendars return ErrCalendarNotFound.
func (s *Scheduler) TriggerSync(ctx context.Context, calendarID string) error {
	if s.ctx.Err() != nil {
		return ErrSchedulerStopped
	}
	cal, err := s.calendars.GetByID(ctx, calendarID)
	if err != nil {
		return fmt.Errorf("getting calendar: %w", err)
	}
	if cal == nil {
		return fmt.Errorf("%w: %s", ErrCalendarNotFound, calendarID)
	}

	s.ScheduleCalendar(*cal)

	if !s.goTracked(func() { s.syncCalendar(s.ctx, cal.ID) }) {
		return ErrSchedulerStopped
	}
	return nil
}

// TriggerSyncAll syncs every enabled calendar in the background.
func (s *Scheduler) TriggerSyncAll() {
	started := s.goTracked(func() {
		results, err := s.syncService.SyncAll(s.ctx)
		if err != nil {
			s.logger.WithError(err).Warn("Sync of all calendars interrupted")
		}
		for _, result := range results {
			s.publish(result)
		}
	})
	if !started {
		s.logger.Debug("Ignoring sync request after stop")
	}
}

// goTracked runs fn in a goroutine that Stop waits for. It reports false
// once the scheduler is stopped.
func (s *Scheduler) goTracked(fn func()) bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// syncCalendar performs the actual sync operation.
func (s *Scheduler) syncCalendar(ctx context.Context, calendarID string) {
	result, err := s.syncService.SyncCalendarByID(ctx, calendarID)
	if err != nil {
		s.logger.WithError(err).WithField("calendar_id", calendarID).Error("Calendar sync failed")
		if result == nil {
			result = &models.CalendarSyncResult{CalendarID: calendarID, Error: err, SyncedAt: time.Now().UTC()}
		}
	}
	s.publish(*result)
}

func (s *Scheduler) publish(result models.CalendarSyncResult) {
	if s.broadcaster == nil {
		return
	}
	if result.Error != nil {
		s.broadcaster.BroadcastCalendarSyncError(result.CalendarID, result.CalendarName, result.Error)
		return
	}
	s.broadcaster.BroadcastCalendarSyncCompleted(result)
}

// refreshSchedules reloads calendar schedules from the database.
func (s *Scheduler) refreshSchedules(ctx context.Context) {
	calendars, err := s.calendars.ListEnabled(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to refresh calendar schedules")
		return
	}

	currentIDs := make(map[string]bool)
	for _, cal := range calendars {
		currentIDs[cal.ID] = true
		s.ScheduleCalendar(cal)
	}

	// Remove jobs for calendars that no longer exist or are disabled
	s.jobsMu.Lock()
	for calID, job := range s.jobs {
		if !currentIDs[calID] {
			s.cron.Remove(job.entryID)
			delete(s.jobs, calID)
			s.logger.WithField("calendar_id", calID).Info("Removed schedule for calendar no longer enabled")
		}
	}
	s.jobsMu.Unlock()
}

// minutesToCronSpec converts minutes to a cron spec.
func minutesToCronSpec(minutes int) string {
	if minutes <= 0 {
		minutes = 5
	}
	return "@every " + (time.Duration(minutes) * time.Minute).String()
}

// GetScheduledCalendars returns a list of currently scheduled calendar IDs.
func (s *Scheduler) GetScheduledCalendars() []string {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// GetNextRun returns the next scheduled run time for a calendar.
func (s *Scheduler) GetNextRun(calendarID string) *time.Time {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	if job, exists := s.jobs[calendarID]; exists {
		entry := s.cron.Entry(job.entryID)
		if !entry.Next.IsZero() {
			return &entry.Next
		}
	}
	return nil
}
