package messaging

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTelegramServer(t *testing.T, sent *[]map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Reminders","username":"reminder_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			*sent = append(*sent, map[string]string{
				"chat_id":    r.Form.Get("chat_id"),
				"text":       r.Form.Get("text"),
				"parse_mode": r.Form.Get("parse_mode"),
			})
			io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"group"},"text":"ok"}}`)
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTelegramSendMessage(t *testing.T) {
	var sent []map[string]string
	srv := newTelegramServer(t, &sent)

	s, err := NewTelegramSenderWithEndpoint("123:abc", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("NewTelegramSenderWithEndpoint: %v", err)
	}

	ctx := context.Background()
	roomID, err := s.JoinRoom(ctx, " -42 ")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if err := s.SendMessage(ctx, roomID, "**Standup** starts in 10 minutes"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if len(sent) != 1 {
		t.Fatalf("messages sent: got %d, want 1", len(sent))
	}
	if sent[0]["chat_id"] != "-42" || sent[0]["parse_mode"] != "Markdown" {
		t.Fatalf("request: %+v", sent[0])
	}
	if sent[0]["text"] != "*Standup* starts in 10 minutes" {
		t.Fatalf("text: %q", sent[0]["text"])
	}
}

func TestTelegramRejectsNonNumericRooms(t *testing.T) {
	var sent []map[string]string
	srv := newTelegramServer(t, &sent)

	s, err := NewTelegramSenderWithEndpoint("123:abc", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("NewTelegramSenderWithEndpoint: %v", err)
	}
	if _, err := s.JoinRoom(context.Background(), "#team:example.com"); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
	if got := s.Mention("Alice", "@alice:example.com"); got != "Alice" {
		t.Fatalf("mention of non-numeric id: %q", got)
	}
	if got := s.Mention("Alice", "1234"); got != "[Alice](tg://user?id=1234)" {
		t.Fatalf("mention: %q", got)
	}
}

func TestTelegramRequiresToken(t *testing.T) {
	if _, err := NewTelegramSender(""); err == nil {
		t.Fatal("expected error for empty token")
	}
}
