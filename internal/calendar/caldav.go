// Package calendar syncs CalDAV calendars into stored events and occurrences.
package calendar

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/calendar-bot/backend/internal/storage/models"
)

// RawDocument is one calendar-data payload returned by a CalDAV REPORT.
type RawDocument struct {
	Href string
	ETag string
	Data string
}

// FeedClient fetches raw calendar documents from a CalDAV collection.
type FeedClient struct {
	httpClient *http.Client
}

// NewFeedClient creates a feed client whose requests time out after timeout.
func NewFeedClient(timeout time.Duration) *FeedClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FeedClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

const calendarQueryBody = `<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data/>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%s"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`

// FetchOccurrences issues a calendar-query REPORT for every event overlapping
// [windowStart, ∞) and returns the calendar documents of the multistatus reply.
func (c *FeedClient) FetchOccurrences(ctx context.Context, feedURL string, auth models.CalendarAuth, windowStart time.Time) ([]RawDocument, error) {
	body := fmt.Sprintf(calendarQueryBody, windowStart.UTC().Format("20060102T150405Z"))

	req, err := http.NewRequestWithContext(ctx, "REPORT", feedURL, strings.NewReader(body))
	if err != nil {
		return nil, &FetchError{URL: redactURL(feedURL), Err: err}
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", "1")

	switch auth.Kind {
	case models.AuthBasic:
		req.SetBasicAuth(auth.UserName, auth.Password)
	case models.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: redactURL(feedURL), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{URL: redactURL(feedURL), StatusCode: resp.StatusCode}
	}

	docs, err := parseMultistatus(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: redactURL(feedURL), Err: err}
	}
	return docs, nil
}

type multistatus struct {
	XMLName   xml.Name      `xml:"multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href      string        `xml:"href"`
	Propstats []davPropstat `xml:"propstat"`
}

type davPropstat struct {
	Status string `xml:"status"`
	Prop   struct {
		ETag         string `xml:"getetag"`
		CalendarData string `xml:"calendar-data"`
	} `xml:"prop"`
}

// parseMultistatus extracts the non-empty calendar-data payloads of a 207 body.
func parseMultistatus(r io.Reader) ([]RawDocument, error) {
	var ms multistatus
	if err := xml.NewDecoder(r).Decode(&ms); err != nil {
		return nil, fmt.Errorf("parsing multistatus: %w", err)
	}

	var docs []RawDocument
	for _, resp := range ms.Responses {
		for _, ps := range resp.Propstats {
			if ps.Status != "" && !strings.Contains(ps.Status, " 200 ") {
				continue
			}
			data := strings.TrimSpace(ps.Prop.CalendarData)
			if data == "" {
				continue
			}
			docs = append(docs, RawDocument{
				Href: resp.Href,
				ETag: strings.Trim(ps.Prop.ETag, `"`),
				Data: data,
			})
		}
	}
	return docs, nil
}

// redactURL strips credentials and query parameters for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid-url>"
	}
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = "<redacted>"
	}
	return u.String()
}
