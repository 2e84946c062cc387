package models

import "time"

// Reminder asks for a message in Room some minutes before each occurrence of an event.
type Reminder struct {
	ID               string    `json:"id"`
	CalendarID       string    `json:"calendar_id"`
	UserID           string    `json:"user_id"`
	EventUID         string    `json:"event_uid"`
	MinutesBefore    int       `json:"minutes_before"`
	Room             string    `json:"room"`
	Template         *string   `json:"template,omitempty"`
	AttendeeEditable bool      `json:"attendee_editable"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Equivalent reports whether two reminders would produce the same message
// for the same owner, ignoring identity and target event.
func (r Reminder) Equivalent(o Reminder) bool {
	if r.UserID != o.UserID || r.Room != o.Room || r.MinutesBefore != o.MinutesBefore {
		return false
	}
	if r.AttendeeEditable != o.AttendeeEditable {
		return false
	}
	switch {
	case r.Template == nil && o.Template == nil:
		return true
	case r.Template == nil || o.Template == nil:
		return false
	default:
		return *r.Template == *o.Template
	}
}

// PendingReminder is a reminder joined with the occurrence it fires for.
type PendingReminder struct {
	ReminderID    string     `json:"reminder_id"`
	CalendarID    string     `json:"calendar_id"`
	UserID        string     `json:"user_id"`
	EventUID      string     `json:"event_uid"`
	Summary       string     `json:"summary"`
	Description   string     `json:"description,omitempty"`
	Location      string     `json:"location,omitempty"`
	Template      *string    `json:"template,omitempty"`
	MinutesBefore int        `json:"minutes_before"`
	Room          string     `json:"room"`
	Attendees     []Attendee `json:"attendees"`
	OccursAt      time.Time  `json:"occurs_at"`
	FireAt        time.Time  `json:"fire_at"`
}

// Key identifies one firing of a reminder for one occurrence.
func (p PendingReminder) Key() FiringKey {
	return FiringKey{ReminderID: p.ReminderID, EventUID: p.EventUID, Occurrence: p.OccursAt.Unix()}
}

// FiringKey is the (reminder, event, occurrence) triple used to suppress double dispatch.
type FiringKey struct {
	ReminderID string
	EventUID   string
	Occurrence int64
}

// IdentityMapping maps a calendar email address to a chat user id.
type IdentityMapping struct {
	Email  string `json:"email"`
	ChatID string `json:"chat_id"`
}
