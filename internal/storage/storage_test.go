package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/calendar-bot/backend/internal/storage/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger, _ := test.NewNullLogger()
	if err := RunMigrations(db, logger); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	return db
}

func createCalendar(t *testing.T, db *DB, userID string) *models.CalendarSource {
	t.Helper()
	cal := &models.CalendarSource{
		UserID:          userID,
		Name:            "Work",
		URL:             "https://dav.example.com/cal/",
		Auth:            models.CalendarAuth{Kind: models.AuthBasic, UserName: "alice", Password: "secret"},
		SyncIntervalMin: 5,
		Enabled:         true,
	}
	if err := NewCalendarRepository(db).Create(context.Background(), cal); err != nil {
		t.Fatalf("Create calendar: %v", err)
	}
	return cal
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	logger, _ := test.NewNullLogger()
	if err := RunMigrations(db, logger); err != nil {
		t.Fatalf("second RunMigrations: %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	got := pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	if want := "SELECT * FROM t WHERE a = $1 AND b = $2"; got != want {
		t.Fatalf("Rebind: got %q, want %q", got, want)
	}

	lite := &DB{driver: DriverSQLite}
	if got := lite.Rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite Rebind changed query: %q", got)
	}
}

func TestCalendarRepositoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewCalendarRepository(db)
	cal := createCalendar(t, db, "user-1")

	got, err := repo.GetByID(ctx, cal.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID: got nil calendar")
	}
	if got.Auth.Kind != models.AuthBasic || got.Auth.Password != "secret" {
		t.Fatalf("auth not stored: %+v", got.Auth)
	}
	if got.SyncStatus != models.SyncStatusPending {
		t.Fatalf("SyncStatus: got %q, want %q", got.SyncStatus, models.SyncStatusPending)
	}

	if err := repo.UpdateSyncStatus(ctx, cal.ID, models.SyncStatusSuccess, nil); err != nil {
		t.Fatalf("UpdateSyncStatus: %v", err)
	}
	got, _ = repo.GetByID(ctx, cal.ID)
	if got.LastSyncAt == nil {
		t.Fatal("LastSyncAt not set after successful sync")
	}

	enabled, err := repo.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(enabled) != 1 {
		t.Fatalf("ListEnabled: got %d calendars, want 1", len(enabled))
	}

	missing, err := repo.GetByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("GetByID(missing): got %v, %v", missing, err)
	}
	if err := repo.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete(missing): got %v, want ErrNotFound", err)
	}
}

func TestUpsertEventsAndReplaceInstances(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	cal := createCalendar(t, db, "user-1")
	events := NewEventRepository(db)

	berlin := time.FixedZone("CET", 3600)
	base := time.Date(2026, 10, 20, 9, 0, 0, 0, berlin)
	ev := models.BaseEvent{
		UID:           "standup",
		Summary:       "Standup",
		Organizer:     &models.Attendee{Email: "boss@example.com", CommonName: "Boss"},
		Attendees:     []models.Attendee{{Email: "alice@example.com"}},
		RecurrenceEnd: models.RecurrenceInfinite,
	}
	instances := []models.EventInstance{
		{EventUID: "standup", Time: base, Attendees: ev.Attendees},
		{EventUID: "standup", Time: base.AddDate(0, 0, 1), Attendees: ev.Attendees},
	}

	for i := 0; i < 2; i++ {
		if err := events.UpsertEventsAndReplaceInstances(ctx, cal.ID, []models.BaseEvent{ev}, instances); err != nil {
			t.Fatalf("Upsert pass %d: %v", i, err)
		}
	}

	n, err := events.CountInstances(ctx, cal.ID)
	if err != nil {
		t.Fatalf("CountInstances: %v", err)
	}
	if n != 2 {
		t.Fatalf("CountInstances after two identical passes: got %d, want 2", n)
	}

	prev, err := events.GetPreviousInstances(ctx, cal.ID)
	if err != nil {
		t.Fatalf("GetPreviousInstances: %v", err)
	}
	if len(prev) != 1 || len(prev[0].Instances) != 2 {
		t.Fatalf("GetPreviousInstances: got %+v", prev)
	}
	if got := prev[0].Event; got.Organizer == nil || got.Organizer.Email != "boss@example.com" || got.RecurrenceEnd != models.RecurrenceInfinite {
		t.Fatalf("event not round-tripped: %+v", got)
	}
	first := prev[0].Instances[0].Time
	if !first.Equal(base) {
		t.Fatalf("instance time: got %v, want %v", first, base)
	}
	if _, off := first.Zone(); off != 3600 {
		t.Fatalf("instance offset: got %d, want 3600", off)
	}

	// A later pass with fewer occurrences replaces the set wholesale.
	if err := events.UpsertEventsAndReplaceInstances(ctx, cal.ID, []models.BaseEvent{ev}, instances[:1]); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if n, _ := events.CountInstances(ctx, cal.ID); n != 1 {
		t.Fatalf("CountInstances after shrink: got %d, want 1", n)
	}
}

func TestGetAllPendingReminderJoins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	cal := createCalendar(t, db, "user-1")
	events := NewEventRepository(db)
	reminders := NewReminderRepository(db)

	at := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)
	ev := models.BaseEvent{UID: "ev-1", Summary: "Review"}
	inst := []models.EventInstance{
		{EventUID: "ev-1", Time: at},
		{EventUID: "ev-1", Time: at.Add(24 * time.Hour)},
	}
	if err := events.UpsertEventsAndReplaceInstances(ctx, cal.ID, []models.BaseEvent{ev}, inst); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	for _, minutes := range []int{5, 30} {
		rem := &models.Reminder{CalendarID: cal.ID, UserID: "user-1", EventUID: "ev-1", MinutesBefore: minutes, Room: "#team:example.com"}
		if err := reminders.AddReminder(ctx, rem); err != nil {
			t.Fatalf("AddReminder: %v", err)
		}
	}

	pending, err := events.GetAllPendingReminderJoins(ctx)
	if err != nil {
		t.Fatalf("GetAllPendingReminderJoins: %v", err)
	}
	if len(pending) != 4 {
		t.Fatalf("pending: got %d entries, want 4", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].FireAt.Before(pending[i-1].FireAt) {
			t.Fatalf("pending not ordered at %d: %v before %v", i, pending[i].FireAt, pending[i-1].FireAt)
		}
	}
	if want := at.Add(-30 * time.Minute); !pending[0].FireAt.Equal(want) {
		t.Fatalf("first fire time: got %v, want %v", pending[0].FireAt, want)
	}
	if pending[0].Summary != "Review" {
		t.Fatalf("summary: got %q", pending[0].Summary)
	}
}

func TestReminderRepository(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	cal := createCalendar(t, db, "user-1")
	repo := NewReminderRepository(db)

	tmpl := "{{.Summary}} soon"
	rem := &models.Reminder{ID: "placeholder", CalendarID: cal.ID, UserID: "user-1", EventUID: "A", MinutesBefore: 10, Room: "!room", Template: &tmpl}
	if err := repo.AddReminder(ctx, rem); err != nil {
		t.Fatalf("AddReminder: %v", err)
	}
	if rem.ID == "placeholder" || rem.ID == "" {
		t.Fatalf("AddReminder kept placeholder id %q", rem.ID)
	}

	got, err := repo.GetRemindersForEvent(ctx, cal.ID, "A")
	if err != nil {
		t.Fatalf("GetRemindersForEvent: %v", err)
	}
	if len(got) != 1 || got[0].Template == nil || *got[0].Template != tmpl {
		t.Fatalf("GetRemindersForEvent: got %+v", got)
	}

	got[0].MinutesBefore = 15
	if err := repo.Update(ctx, &got[0]); err != nil {
		t.Fatalf("Update: %v", err)
	}
	updated, _ := repo.GetByID(ctx, rem.ID)
	if updated.MinutesBefore != 15 {
		t.Fatalf("MinutesBefore: got %d, want 15", updated.MinutesBefore)
	}

	if err := repo.Delete(ctx, rem.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := repo.Count(ctx); n != 0 {
		t.Fatalf("Count after delete: got %d, want 0", n)
	}
}

func TestDirectoryRepository(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewDirectoryRepository(db)

	if err := repo.AddIdentityMapping(ctx, models.IdentityMapping{Email: "Alice@Example.com", ChatID: "@alice:example.com"}); err != nil {
		t.Fatalf("AddIdentityMapping: %v", err)
	}
	if err := repo.AddIdentityMapping(ctx, models.IdentityMapping{Email: "alice@example.com", ChatID: "@alice2:example.com"}); err != nil {
		t.Fatalf("AddIdentityMapping (replace): %v", err)
	}
	mappings, err := repo.GetIdentityMappings(ctx)
	if err != nil {
		t.Fatalf("GetIdentityMappings: %v", err)
	}
	if len(mappings) != 1 || mappings[0].ChatID != "@alice2:example.com" {
		t.Fatalf("GetIdentityMappings: got %+v", mappings)
	}

	if err := repo.SetOutToday(ctx, []string{"Bob@example.com", "carol@example.com"}); err != nil {
		t.Fatalf("SetOutToday: %v", err)
	}
	if err := repo.SetOutToday(ctx, []string{"bob@example.com"}); err != nil {
		t.Fatalf("SetOutToday (replace): %v", err)
	}
	out, err := repo.GetOutTodayEmails(ctx)
	if err != nil {
		t.Fatalf("GetOutTodayEmails: %v", err)
	}
	if len(out) != 1 || !out["bob@example.com"] {
		t.Fatalf("GetOutTodayEmails: got %v", out)
	}
}
