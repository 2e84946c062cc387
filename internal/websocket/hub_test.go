package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/calendar-bot/backend/internal/storage/models"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.Send():
		if !ok {
			t.Fatal("client channel closed")
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decoding message: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestBroadcasterEventsReachClients(t *testing.T) {
	hub, _ := startHub(t)
	logger, _ := test.NewNullLogger()
	b := NewEventBroadcaster(hub, logger)

	client := NewClient(hub)
	if !hub.Register(client) {
		t.Fatal("Register failed")
	}

	b.BroadcastCalendarSyncCompleted(models.CalendarSyncResult{CalendarID: "cal-1", InstancesWritten: 3})
	b.BroadcastCalendarSyncError("cal-2", "Home", errors.New("boom"))
	b.BroadcastReminderSent(models.PendingReminder{ReminderID: "r1"})
	b.BroadcastReminderFailed(models.PendingReminder{ReminderID: "r2"}, errors.New("room gone"))
	b.BroadcastRemindersRecomputed(4)

	want := []MessageType{
		TypeCalendarSyncCompleted,
		TypeCalendarSyncError,
		TypeReminderSent,
		TypeReminderFailed,
		TypeRemindersRecomputed,
	}
	for _, typ := range want {
		if got := receive(t, client); got.Type != typ {
			t.Fatalf("message type: got %q, want %q", got.Type, typ)
		}
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count: got %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientReply(t *testing.T) {
	hub, _ := startHub(t)
	client := NewClient(hub)
	hub.Register(client)
	waitForClients(t, hub, 1)

	if !client.Reply([]byte(`{"type":"pong"}`)) {
		t.Fatal("Reply to registered client failed")
	}
	if got := receive(t, client); got.Type != TypePong {
		t.Fatalf("reply type: %q", got.Type)
	}

	hub.Unregister(client)
	waitForClients(t, hub, 0)
	if client.Reply([]byte(`{}`)) {
		t.Fatal("Reply to unregistered client succeeded")
	}
}

func TestHubStopClosesClients(t *testing.T) {
	hub, cancel := startHub(t)
	client := NewClient(hub)
	hub.Register(client)

	cancel()
	select {
	case _, ok := <-client.Send():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed on shutdown")
	}

	if hub.Register(NewClient(hub)) {
		t.Fatal("Register succeeded after shutdown")
	}
}
