package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/sirupsen/logrus"
	"github.com/teambition/rrule-go"

	"github.com/calendar-bot/backend/internal/storage/models"
)

// MaxOccurrencesPerEvent bounds the occurrences kept for a single series.
const MaxOccurrencesPerEvent = 2000

// Window is the span of occurrences kept around now.
type Window struct {
	Past   time.Duration
	Future time.Duration
}

// DefaultWindow keeps occurrences from a week ago up to thirty days ahead.
var DefaultWindow = Window{Past: 7 * 24 * time.Hour, Future: 30 * 24 * time.Hour}

// Bounds returns the inclusive window around now.
func (w Window) Bounds(now time.Time) (time.Time, time.Time) {
	return now.Add(-w.Past), now.Add(w.Future)
}

// ExpandResult is the normalized content of one fetch.
type ExpandResult struct {
	Events    []models.BaseEvent
	Instances []models.EventInstance
	// Fetched holds the recurrence end policy of every master event seen in
	// the fetch, including events skipped for reminder purposes.
	Fetched map[string]models.RecurrenceEnd
	// Errors collects the documents and events that were skipped.
	Errors []error
}

// Expander turns raw calendar documents into base events and occurrences.
type Expander struct {
	window Window
	logger logrus.FieldLogger
}

// NewExpander creates an expander for the given occurrence window.
func NewExpander(window Window, logger logrus.FieldLogger) *Expander {
	return &Expander{window: window, logger: logger}
}

// vevent is a decoded VEVENT component with the fields expansion needs.
type vevent struct {
	uid          string
	summary      string
	description  string
	location     string
	status       string
	organizer    *models.Attendee
	attendees    []models.Attendee
	start        time.Time
	allDay       bool
	floating     bool
	rrule        string
	rdates       []time.Time
	exdates      []time.Time
	recurrenceID *time.Time
}

// Expand decodes docs and expands every timed event into occurrences within
// the window around now. A document or event that fails to decode is logged
// and skipped without affecting its siblings.
func (e *Expander) Expand(calendarID string, docs []RawDocument, now time.Time) ExpandResult {
	result := ExpandResult{Fetched: make(map[string]models.RecurrenceEnd)}

	var (
		order     []string
		masters   = make(map[string]*vevent)
		overrides = make(map[string][]*vevent)
	)
	for _, doc := range docs {
		cal, err := ical.ParseCalendar(strings.NewReader(doc.Data))
		if err != nil {
			e.skip(&result, &DecodeError{Document: doc.Href, Err: err})
			continue
		}
		zones := newZoneResolver(cal)
		for _, component := range cal.Events() {
			ev, err := decodeVEvent(component, zones)
			if err != nil {
				// The event is still in the feed, so it must not look vanished
				// to the deduplicator.
				if ev != nil {
					if _, seen := result.Fetched[ev.uid]; !seen {
						result.Fetched[ev.uid] = models.RecurrenceInfinite
					}
				}
				e.skip(&result, &DecodeError{Document: doc.Href, Err: err})
				continue
			}
			if ev.recurrenceID != nil {
				overrides[ev.uid] = append(overrides[ev.uid], ev)
				continue
			}
			if _, dup := masters[ev.uid]; dup {
				continue
			}
			masters[ev.uid] = ev
			order = append(order, ev.uid)
		}
	}

	lo, hi := e.window.Bounds(now)
	for _, uid := range order {
		master := masters[uid]

		end, opt, err := recurrenceEnd(master.rrule)
		if err != nil {
			// Unknown rules are treated as open so the event is never deduplicated.
			result.Fetched[uid] = models.RecurrenceInfinite
			e.skip(&result, &DecodeError{Document: uid, Err: err})
			continue
		}
		result.Fetched[uid] = end

		if master.allDay || master.floating || strings.EqualFold(master.status, "CANCELLED") {
			continue
		}

		times, err := occurrences(master, opt, overrides[uid], lo, hi)
		if err != nil {
			e.skip(&result, &DecodeError{Document: uid, Err: err})
			continue
		}
		if len(times) > MaxOccurrencesPerEvent {
			e.logger.WithFields(logrus.Fields{"calendar_id": calendarID, "event_uid": uid, "occurrences": len(times)}).
				Warn("Truncating occurrences of dense recurring event")
			times = times[:MaxOccurrencesPerEvent]
		}

		result.Events = append(result.Events, models.BaseEvent{
			CalendarID:    calendarID,
			UID:           uid,
			Summary:       master.summary,
			Description:   master.description,
			Location:      master.location,
			Organizer:     master.organizer,
			Attendees:     master.attendees,
			RecurrenceEnd: end,
		})
		result.Instances = append(result.Instances, times...)
	}

	return result
}

func (e *Expander) skip(result *ExpandResult, err error) {
	result.Errors = append(result.Errors, err)
	e.logger.WithError(err).Warn("Skipping undecodable calendar data")
}

// recurrenceEnd classifies a raw RRULE value. An empty rule means the event
// does not recur.
func recurrenceEnd(raw string) (models.RecurrenceEnd, *rrule.ROption, error) {
	if raw == "" {
		return models.RecurrenceNone, nil, nil
	}
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parsing RRULE %q: %w", raw, err)
	}
	switch {
	case opt.Count > 0:
		return models.RecurrenceCount, opt, nil
	case !opt.Until.IsZero():
		return models.RecurrenceUntil, opt, nil
	default:
		return models.RecurrenceInfinite, opt, nil
	}
}

// occurrences expands master within [lo, hi], applying EXDATE, RDATE and
// RECURRENCE-ID overrides. Each occurrence carries its own attendee list.
func occurrences(master *vevent, opt *rrule.ROption, overrides []*vevent, lo, hi time.Time) ([]models.EventInstance, error) {
	var set rrule.Set
	if opt != nil {
		o := *opt
		o.Dtstart = master.start
		r, err := rrule.NewRRule(o)
		if err != nil {
			return nil, fmt.Errorf("building RRULE: %w", err)
		}
		set.RRule(r)
	} else {
		set.RDate(master.start)
	}
	for _, t := range master.rdates {
		set.RDate(t)
	}
	for _, t := range master.exdates {
		set.ExDate(t)
	}

	byRecurrenceID := make(map[int64]*vevent, len(overrides))
	for _, ov := range overrides {
		byRecurrenceID[ov.recurrenceID.Unix()] = ov
	}

	inWindow := func(t time.Time) bool { return !t.Before(lo) && !t.After(hi) }

	var out []models.EventInstance
	used := make(map[int64]bool)
	for _, t := range set.Between(lo, hi, true) {
		ov, ok := byRecurrenceID[t.Unix()]
		if !ok {
			out = append(out, models.EventInstance{EventUID: master.uid, Time: t, Attendees: master.attendees})
			continue
		}
		used[t.Unix()] = true
		if inst, keep := overrideInstance(master, ov, inWindow); keep {
			out = append(out, inst)
		}
	}

	// Overrides whose original slot lies outside the window may have been
	// moved into it.
	for key, ov := range byRecurrenceID {
		if used[key] || inWindow(*ov.recurrenceID) {
			continue
		}
		if inst, keep := overrideInstance(master, ov, inWindow); keep {
			out = append(out, inst)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func overrideInstance(master, ov *vevent, inWindow func(time.Time) bool) (models.EventInstance, bool) {
	if strings.EqualFold(ov.status, "CANCELLED") || ov.allDay || ov.floating || !inWindow(ov.start) {
		return models.EventInstance{}, false
	}
	return models.EventInstance{EventUID: master.uid, Time: ov.start, Attendees: ov.attendees}, true
}

// decodeVEvent reads one VEVENT. Once the UID is known, a failure still
// returns the partially decoded event alongside the error.
func decodeVEvent(ve *ical.VEvent, zones *zoneResolver) (*vevent, error) {
	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return nil, errors.New("VEVENT without UID")
	}
	ev := &vevent{uid: strings.TrimSpace(uid.Value)}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		ev.status = strings.TrimSpace(p.Value)
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return ev, fmt.Errorf("event %s has no DTSTART", ev.uid)
	}
	pt, err := parsePropertyTimes(dtstart, zones)
	if err != nil {
		return ev, fmt.Errorf("event %s: DTSTART: %w", ev.uid, err)
	}
	ev.start, ev.allDay, ev.floating = pt.times[0], pt.allDay, pt.floating

	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		if a, ok := parseAttendee(p); ok {
			ev.organizer = &a
		}
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		if strings.EqualFold(param(p, "PARTSTAT"), "DECLINED") {
			continue
		}
		if a, ok := parseAttendee(p); ok {
			ev.attendees = append(ev.attendees, a)
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.rrule = strings.TrimSpace(p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		pt, err := parsePropertyTimes(p, zones)
		if err != nil {
			return ev, fmt.Errorf("event %s: EXDATE: %w", ev.uid, err)
		}
		ev.exdates = append(ev.exdates, pt.times...)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyRdate) {
		pt, err := parsePropertyTimes(p, zones)
		if err != nil {
			return ev, fmt.Errorf("event %s: RDATE: %w", ev.uid, err)
		}
		ev.rdates = append(ev.rdates, pt.times...)
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		pt, err := parsePropertyTimes(p, zones)
		if err != nil {
			return ev, fmt.Errorf("event %s: RECURRENCE-ID: %w", ev.uid, err)
		}
		ev.recurrenceID = &pt.times[0]
	}

	return ev, nil
}

// parseAttendee reads an ORGANIZER or ATTENDEE property. Only mailto: addresses are accepted.
func parseAttendee(p *ical.IANAProperty) (models.Attendee, bool) {
	value := strings.TrimSpace(p.Value)
	if len(value) < len("mailto:") || !strings.EqualFold(value[:len("mailto:")], "mailto:") {
		return models.Attendee{}, false
	}
	email := strings.TrimSpace(value[len("mailto:"):])
	if email == "" {
		return models.Attendee{}, false
	}
	return models.Attendee{Email: email, CommonName: strings.Trim(param(p, "CN"), `"`)}, true
}

// param returns the first value of a property parameter, matching names case-insensitively.
func param(p *ical.IANAProperty, name string) string {
	for k, v := range p.ICalParameters {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

type propertyTimes struct {
	times    []time.Time
	allDay   bool
	floating bool
}

// parsePropertyTimes parses a DATE or DATE-TIME property, which may hold a
// comma-separated list, honouring the TZID parameter.
func parsePropertyTimes(p *ical.IANAProperty, zones *zoneResolver) (propertyTimes, error) {
	var out propertyTimes

	loc := time.UTC
	tzid := param(p, "TZID")
	if tzid != "" {
		l, err := zones.location(tzid)
		if err != nil {
			return out, err
		}
		loc = l
	}
	out.allDay = strings.EqualFold(param(p, "VALUE"), "DATE")

	for _, v := range strings.Split(p.Value, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		var (
			t   time.Time
			err error
		)
		switch {
		case !strings.Contains(v, "T"):
			out.allDay = true
			t, err = time.ParseInLocation("20060102", v, loc)
		case strings.HasSuffix(v, "Z"):
			t, err = time.Parse("20060102T150405Z", v)
		default:
			if tzid == "" {
				out.floating = true
			}
			t, err = time.ParseInLocation("20060102T150405", v, loc)
		}
		if err != nil {
			return out, fmt.Errorf("parsing time %q: %w", v, err)
		}
		out.times = append(out.times, t)
	}
	if len(out.times) == 0 {
		return out, errors.New("empty time value")
	}
	return out, nil
}
