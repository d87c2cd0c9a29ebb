package domain

import (
	"encoding/json"
	"time"
)

// MoltRecord is one completed molt cycle. Records are immutable once appended.
type MoltRecord struct {
	Reflection   string          `json:"reflection"`
	Prompt       string          `json:"prompt"`
	ImageURL     string          `json:"imageUrl"`
	UploadResult json.RawMessage `json:"uploadResult,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	DayNumber    int             `json:"dayNumber"`
}

// MoltEntry is the data a cycle hands to the history store. The store assigns
// Timestamp and DayNumber when it appends.
type MoltEntry struct {
	Reflection   string
	Prompt       string
	ImageURL     string
	UploadResult json.RawMessage
}

// Record stamps the entry with its position in the log.
func (e MoltEntry) Record(at time.Time, dayNumber int) MoltRecord {
	upload := e.UploadResult
	if len(upload) == 0 {
		upload = json.RawMessage("{}")
	}
	return MoltRecord{
		Reflection:   e.Reflection,
		Prompt:       e.Prompt,
		ImageURL:     e.ImageURL,
		UploadResult: append(json.RawMessage(nil), upload...),
		Timestamp:    at.UTC(),
		DayNumber:    dayNumber,
	}
}

// SameDay compares calendar dates in now's location.
func SameDay(t, now time.Time) bool {
	y1, m1, d1 := t.In(now.Location()).Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// MoltedOn reports whether the most recent record in log falls on now's
// calendar day.
func MoltedOn(log []MoltRecord, now time.Time) bool {
	if len(log) == 0 {
		return false
	}
	return SameDay(log[len(log)-1].Timestamp, now)
}

// Guard decides, inside the store's critical section, whether an append may
// proceed given the current log.
type Guard func(log []MoltRecord) error

// OncePerDay returns a Guard rejecting appends when the log already has a
// record on now's calendar day.
func OncePerDay(now time.Time) Guard {
	return func(log []MoltRecord) error {
		if MoltedOn(log, now) {
			return ErrAlreadyMoltedToday
		}
		return nil
	}
}
