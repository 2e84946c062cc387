package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMatrixJoinAndSend(t *testing.T) {
	var (
		joinPath string
		sendPath string
		sendBody map[string]string
		auths    []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/_matrix/client/r0/join/"):
			joinPath = r.URL.EscapedPath()
			io.WriteString(w, `{"room_id":"!abc:example.com"}`)
		case r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/send/m.room.message/"):
			sendPath = r.URL.Path
			if err := json.NewDecoder(r.Body).Decode(&sendBody); err != nil {
				t.Errorf("decoding send body: %v", err)
			}
			io.WriteString(w, `{"event_id":"$1"}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m := NewMatrixSender(srv.URL+"/", "token", time.Second)
	ctx := context.Background()

	roomID, err := m.JoinRoom(ctx, "#team:example.com")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if roomID != "!abc:example.com" {
		t.Fatalf("room id: got %q", roomID)
	}
	if !strings.Contains(joinPath, "%23team:example.com") {
		t.Fatalf("join path not escaped: %q", joinPath)
	}

	if err := m.SendMessage(ctx, roomID, "**Standup** starts in 10 minutes"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !strings.HasPrefix(sendPath, "/_matrix/client/r0/rooms/!abc:example.com/send/m.room.message/") {
		t.Fatalf("send path: %q", sendPath)
	}
	if sendBody["msgtype"] != "m.text" || sendBody["format"] != "org.matrix.custom.html" {
		t.Fatalf("send body: %+v", sendBody)
	}
	if sendBody["body"] != "**Standup** starts in 10 minutes" {
		t.Fatalf("plain body: %q", sendBody["body"])
	}
	if !strings.Contains(sendBody["formatted_body"], "<strong>Standup</strong>") {
		t.Fatalf("formatted body: %q", sendBody["formatted_body"])
	}

	for _, a := range auths {
		if a != "Bearer token" {
			t.Fatalf("Authorization: got %q", a)
		}
	}
}

func TestMatrixSendUsesFreshTransactionIDs(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	m := NewMatrixSender(srv.URL, "token", time.Second)
	for i := 0; i < 2; i++ {
		if err := m.SendMessage(context.Background(), "!abc:example.com", "hi"); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}
	if len(paths) != 2 || paths[0] == paths[1] {
		t.Fatalf("transaction ids reused: %v", paths)
	}
}

func TestMatrixErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"errcode":"M_FORBIDDEN","error":"not invited"}`)
	}))
	defer srv.Close()

	_, err := NewMatrixSender(srv.URL, "token", time.Second).JoinRoom(context.Background(), "#private:example.com")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Code != "M_FORBIDDEN" {
		t.Fatalf("api error: %+v", apiErr)
	}
}

func TestMatrixMention(t *testing.T) {
	m := NewMatrixSender("https://matrix.example.com", "token", 0)

	if got := m.Mention("Alice", "@alice:example.com"); got != "[Alice](https://matrix.to/#/@alice:example.com)" {
		t.Fatalf("valid mention: %q", got)
	}
	if got := m.Mention("Alice", "alice"); got != "Alice" {
		t.Fatalf("invalid id mention: %q", got)
	}
}

func TestIsLikelyValidUserID(t *testing.T) {
	tests := map[string]bool{
		"@alice:example.com":      true,
		"@bob.smith:matrix.org":   true,
		"@carol:localhost:8448":   true,
		"alice:example.com":       false,
		"@Alice:example.com":      false,
		"@alice":                  false,
		"@alice:example.com:port": false,
	}
	for id, want := range tests {
		if got := IsLikelyValidUserID(id); got != want {
			t.Errorf("IsLikelyValidUserID(%q) = %v, want %v", id, got, want)
		}
	}
}
