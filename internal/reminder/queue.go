// Package reminder keeps the in-memory reminder queue and delivers due reminders.
package reminder

import (
	"sort"
	"sync"
	"time"

	"github.com/calendar-bot/backend/internal/storage/models"
)

// Queue holds pending reminders ordered by fire time. It is safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []models.PendingReminder
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Replace swaps the whole queue for entries, sorted by fire time. Entries with
// equal fire times keep their relative order.
func (q *Queue) Replace(entries []models.PendingReminder) {
	items := make([]models.PendingReminder, len(entries))
	copy(items, entries)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].FireAt.Before(items[j].FireAt)
	})

	q.mu.Lock()
	q.items = items
	q.mu.Unlock()
}

// TimeToNext returns the duration from now until the earliest fire time, which
// is negative when that entry is overdue. It reports false for an empty queue.
func (q *Queue) TimeToNext(now time.Time) (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0].FireAt.Sub(now), true
}

// PopDue removes and returns the leading entries whose fire time is at or before now.
func (q *Queue) PopDue(now time.Time) []models.PendingReminder {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for n < len(q.items) && !q.items[n].FireAt.After(now) {
		n++
	}
	if n == 0 {
		return nil
	}

	due := make([]models.PendingReminder, n)
	copy(due, q.items[:n])
	q.items = q.items[n:]
	return due
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued entries in fire order.
func (q *Queue) Snapshot() []models.PendingReminder {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.PendingReminder, len(q.items))
	copy(out, q.items)
	return out
}
