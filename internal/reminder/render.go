package reminder

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/calendar-bot/backend/internal/storage/models"
)

// DefaultTemplate renders a reminder when the reminder has no template of its own.
const DefaultTemplate = `**{{.Summary}}** {{if gt .MinutesBefore 0}}starts in {{.Duration}} {{end}}{{with .Location}}at {{.}} {{end}}{{with .Attendees}} ─ {{.}}{{end}}{{with .Description}}

**Description:** {{.}}
{{end}}`

var defaultTemplate = template.Must(template.New("default").Parse(DefaultTemplate))

// Mentioner formats a mention of a chat user.
type Mentioner interface {
	Mention(name, chatID string) string
}

// MessageData is the value reminder templates are executed against.
type MessageData struct {
	EventUID      string
	Summary       string
	Description   string
	Location      string
	MinutesBefore int
	Duration      string
	Attendees     string
	OccursAt      time.Time
}

// Renderer builds the Markdown body of a reminder message.
type Renderer struct {
	mentions   Mentioner
	identities *IdentityCache
}

// NewRenderer creates a renderer resolving attendees through identities.
func NewRenderer(mentions Mentioner, identities *IdentityCache) *Renderer {
	if identities == nil {
		identities = NewIdentityCache()
	}
	return &Renderer{mentions: mentions, identities: identities}
}

// Render executes the reminder's template, or DefaultTemplate, for p. Attendees
// listed in outToday are left out.
func (r *Renderer) Render(p models.PendingReminder, outToday map[string]bool) (string, error) {
	tmpl := defaultTemplate
	if p.Template != nil && strings.TrimSpace(*p.Template) != "" {
		t, err := template.New(p.ReminderID).Parse(*p.Template)
		if err != nil {
			return "", fmt.Errorf("parsing template: %w", err)
		}
		tmpl = t
	}

	data := MessageData{
		EventUID:      p.EventUID,
		Summary:       p.Summary,
		Description:   p.Description,
		Location:      p.Location,
		MinutesBefore: p.MinutesBefore,
		Duration:      humanizeMinutes(p.MinutesBefore),
		Attendees:     r.attendeeList(p.Attendees, outToday),
		OccursAt:      p.OccursAt,
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}

func (r *Renderer) attendeeList(attendees []models.Attendee, outToday map[string]bool) string {
	names := make([]string, 0, len(attendees))
	for _, a := range attendees {
		if outToday[strings.ToLower(a.Email)] {
			continue
		}
		if id, ok := r.identities.Lookup(a.Email); ok && r.mentions != nil {
			name := a.CommonName
			if name == "" {
				name = id
			}
			names = append(names, r.mentions.Mention(name, id))
			continue
		}
		names = append(names, a.DisplayName())
	}
	return strings.Join(names, ", ")
}

func humanizeMinutes(minutes int) string {
	if minutes <= 0 {
		return ""
	}
	hours, mins := minutes/60, minutes%60

	var parts []string
	switch {
	case hours == 1:
		parts = append(parts, "1 hour")
	case hours > 1:
		parts = append(parts, fmt.Sprintf("%d hours", hours))
	}
	switch {
	case mins == 1:
		parts = append(parts, "1 minute")
	case mins > 1:
		parts = append(parts, fmt.Sprintf("%d minutes", mins))
	}
	return strings.Join(parts, " ")
}
