package calendar

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/calendar-bot/backend/internal/storage/models"
)

const multistatusBody = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/cal/one.ics</d:href>
    <d:propstat>
      <d:prop>
        <d:getetag>"etag-1"</d:getetag>
        <cal:calendar-data>BEGIN:VCALENDAR
VERSION:2.0
END:VCALENDAR</cal:calendar-data>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/cal/missing.ics</d:href>
    <d:propstat>
      <d:prop><cal:calendar-data/></d:prop>
      <d:status>HTTP/1.1 404 Not Found</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

func TestFetchOccurrencesSendsCalendarQuery(t *testing.T) {
	windowStart := time.Date(2026, 4, 19, 12, 0, 0, 0, time.UTC)

	var (
		gotMethod, gotDepth, gotBody string
		gotUser, gotPass             string
		gotBasic                     bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotDepth = r.Header.Get("Depth")
		gotUser, gotPass, gotBasic = r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusMultiStatus)
		io.WriteString(w, multistatusBody)
	}))
	defer srv.Close()

	client := NewFeedClient(5 * time.Second)
	auth := models.CalendarAuth{Kind: models.AuthBasic, UserName: "alice", Password: "pw"}
	docs, err := client.FetchOccurrences(context.Background(), srv.URL+"/cal/", auth, windowStart)
	if err != nil {
		t.Fatalf("FetchOccurrences: %v", err)
	}

	if gotMethod != "REPORT" {
		t.Fatalf("method: got %q, want REPORT", gotMethod)
	}
	if gotDepth != "1" {
		t.Fatalf("Depth: got %q, want 1", gotDepth)
	}
	if !gotBasic || gotUser != "alice" || gotPass != "pw" {
		t.Fatalf("basic auth: got %q/%q (%v)", gotUser, gotPass, gotBasic)
	}
	if !strings.Contains(gotBody, `<C:time-range start="20260419T120000Z"/>`) {
		t.Fatalf("body missing time-range:\n%s", gotBody)
	}

	if len(docs) != 1 {
		t.Fatalf("docs: got %d, want 1", len(docs))
	}
	if docs[0].Href != "/cal/one.ics" || docs[0].ETag != "etag-1" {
		t.Fatalf("doc metadata: %+v", docs[0])
	}
	if !strings.HasPrefix(docs[0].Data, "BEGIN:VCALENDAR") {
		t.Fatalf("doc data: %q", docs[0].Data)
	}
}

func TestFetchOccurrencesBearerAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `<multistatus xmlns="DAV:"></multistatus>`)
	}))
	defer srv.Close()

	auth := models.CalendarAuth{Kind: models.AuthBearer, Token: "tok"}
	if _, err := NewFeedClient(0).FetchOccurrences(context.Background(), srv.URL, auth, time.Now()); err != nil {
		t.Fatalf("FetchOccurrences: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("Authorization: got %q", gotAuth)
	}
}

func TestFetchOccurrencesErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"unauthorized", http.StatusUnauthorized, "nope", http.StatusUnauthorized},
		{"server error", http.StatusInternalServerError, "", http.StatusInternalServerError},
		{"malformed xml", http.StatusMultiStatus, "<multistatus><response>", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewFeedClient(0).FetchOccurrences(context.Background(), srv.URL, models.CalendarAuth{}, time.Now())
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("got %v, want *FetchError", err)
			}
			if fe.StatusCode != tt.wantStatus {
				t.Fatalf("StatusCode: got %d, want %d", fe.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://user:pw@dav.example.com/cal?token=abc")
	if strings.Contains(got, "pw") || strings.Contains(got, "abc") {
		t.Fatalf("redactURL leaked secrets: %q", got)
	}
}
