package models

import "time"

// Attendee is a calendar participant identified by email address.
type Attendee struct {
	Email      string `json:"email"`
	CommonName string `json:"common_name,omitempty"`
}

// DisplayName prefers the common name and falls back to the email address.
func (a Attendee) DisplayName() string {
	if a.CommonName != "" {
		return a.CommonName
	}
	return a.Email
}

// RecurrenceEnd describes how (and whether) a series terminates.
type RecurrenceEnd string

// Recurrence end policies
const (
	RecurrenceNone     RecurrenceEnd = "none"
	RecurrenceCount    RecurrenceEnd = "count"
	RecurrenceInfinite RecurrenceEnd = "infinite"
	RecurrenceUntil    RecurrenceEnd = "until"
)

// Open reports whether the series is still being extended by its provider.
func (r RecurrenceEnd) Open() bool {
	return r == RecurrenceCount || r == RecurrenceInfinite
}

// BaseEvent is the master definition of an event, keyed by (calendar, UID).
type BaseEvent struct {
	CalendarID    string        `json:"calendar_id"`
	UID           string        `json:"uid"`
	Summary       string        `json:"summary"`
	Description   string        `json:"description,omitempty"`
	Location      string        `json:"location,omitempty"`
	Organizer     *Attendee     `json:"organizer,omitempty"`
	Attendees     []Attendee    `json:"attendees"`
	RecurrenceEnd RecurrenceEnd `json:"recurrence_end"`
}

// EventInstance is one concrete occurrence of a BaseEvent.
type EventInstance struct {
	EventUID  string     `json:"event_uid"`
	Time      time.Time  `json:"time"`
	Attendees []Attendee `json:"attendees"`
}

// EventWithInstances pairs a stored event with its stored occurrences.
type EventWithInstances struct {
	Event     BaseEvent       `json:"event"`
	Instances []EventInstance `json:"instances"`
}
