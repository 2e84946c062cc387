package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/calendar-bot/backend/internal/storage/models"
)

type sentMessage struct {
	roomID string
	body   string
}

type fakeSender struct {
	mu       sync.Mutex
	failJoin map[string]bool
	sent     []sentMessage
}

func (f *fakeSender) JoinRoom(_ context.Context, room string) (string, error) {
	if f.failJoin[room] {
		return "", errors.New("room not found")
	}
	return "!" + room, nil
}

func (f *fakeSender) SendMessage(_ context.Context, roomID, markdown string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{roomID: roomID, body: markdown})
	return nil
}

func (f *fakeSender) Mention(name, chatID string) string {
	return name + "<" + chatID + ">"
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeDirectory struct {
	out map[string]bool
	err error
}

func (f fakeDirectory) GetOutTodayEmails(context.Context) (map[string]bool, error) {
	return f.out, f.err
}

type recordingNotifier struct {
	mu         sync.Mutex
	sent       []string
	failed     []string
	recomputed []int
}

func (r *recordingNotifier) BroadcastReminderSent(p models.PendingReminder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, p.ReminderID)
}

func (r *recordingNotifier) BroadcastReminderFailed(p models.PendingReminder, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, p.ReminderID)
}

func (r *recordingNotifier) BroadcastRemindersRecomputed(pending int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recomputed = append(r.recomputed, pending)
}

func TestDispatchAllContinuesAfterFailure(t *testing.T) {
	sender := &fakeSender{failJoin: map[string]bool{"broken": true}}
	notifier := &recordingNotifier{}
	logger, hook := test.NewNullLogger()
	d := NewDispatcher(sender, nil, nil, nil, notifier, logger)

	first := pendingAt("a", queueBase, 0)
	failing := pendingAt("b", queueBase, 0)
	failing.Room = "broken"
	last := pendingAt("c", queueBase, 0)

	sent := d.DispatchAll(context.Background(), []models.PendingReminder{first, failing, last})
	if sent != 2 {
		t.Fatalf("sent: got %d, want 2", sent)
	}

	msgs := sender.messages()
	if len(msgs) != 2 || msgs[0].roomID != "!#room:example.com" {
		t.Fatalf("messages: %+v", msgs)
	}
	if len(notifier.sent) != 2 || len(notifier.failed) != 1 || notifier.failed[0] != "b" {
		t.Fatalf("notifications: sent=%v failed=%v", notifier.sent, notifier.failed)
	}

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["reminder_id"] == "b" {
			logged = true
		}
	}
	if !logged {
		t.Fatal("failed dispatch was not logged")
	}
}

func TestDispatchReturnsDispatchError(t *testing.T) {
	sender := &fakeSender{failJoin: map[string]bool{"broken": true}}
	d := NewDispatcher(sender, nil, nil, nil, nil, nullLogger())

	p := pendingAt("a", queueBase, 0)
	p.Room = "broken"
	err := d.Dispatch(context.Background(), p, nil)

	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want *DispatchError", err)
	}
	if de.ReminderID != "a" || de.Room != "broken" {
		t.Fatalf("dispatch error: %+v", de)
	}
}

func TestDispatchAllFiltersOutOfOfficeAndMentions(t *testing.T) {
	sender := &fakeSender{}
	identities := NewIdentityCache()
	identities.Replace([]models.IdentityMapping{{Email: "alice@example.com", ChatID: "@alice:example.com"}})
	directory := fakeDirectory{out: map[string]bool{"bob@example.com": true}}
	d := NewDispatcher(sender, identities, directory, nil, nil, nullLogger())

	p := pendingAt("a", queueBase, 0)
	p.Attendees = []models.Attendee{
		{Email: "alice@example.com", CommonName: "Alice"},
		{Email: "bob@example.com", CommonName: "Bob"},
	}
	d.DispatchAll(context.Background(), []models.PendingReminder{p})

	msgs := sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("messages: %+v", msgs)
	}
	if want := "Alice<@alice:example.com>"; !strings.Contains(msgs[0].body, want) {
		t.Fatalf("body missing mention %q: %s", want, msgs[0].body)
	}
	if strings.Contains(msgs[0].body, "Bob") {
		t.Fatalf("out-of-office attendee in body: %s", msgs[0].body)
	}
}

func TestDispatchAllIgnoresDirectoryFailure(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, nil, fakeDirectory{err: errors.New("db down")}, nil, nil, nullLogger())

	if sent := d.DispatchAll(context.Background(), []models.PendingReminder{pendingAt("a", queueBase, 0)}); sent != 1 {
		t.Fatalf("sent: got %d, want 1", sent)
	}
}
