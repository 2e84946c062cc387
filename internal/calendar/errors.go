package calendar

import (
	"errors"
	"fmt"
)

// Stage names the step of a sync pass that failed.
type Stage string

// Sync stages
const (
	StageFetch     Stage = "fetch"
	StageDecode    Stage = "decode"
	StageDedup     Stage = "dedup"
	StagePersist   Stage = "persist"
	StageRecompute Stage = "recompute"
)

var (
	// ErrCalendarNotFound is returned when a sync is requested for an unknown calendar.
	ErrCalendarNotFound = errors.New("calendar not found")
	// ErrSchedulerStopped is returned for syncs requested after Stop.
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// SyncError aborts the sync of one calendar.
type SyncError struct {
	Stage      Stage
	CalendarID string
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync calendar %s: %s: %v", e.CalendarID, e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// FetchError reports an unreachable feed, a non-success status or an unreadable response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DecodeError reports a calendar document or event that could not be decoded.
// It is logged and the document is skipped.
type DecodeError struct {
	Document string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Document, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
