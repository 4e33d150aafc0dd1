// Package sla classifies task timeliness. Classification is a pure function
// of the due date, the task status and the supplied clock reading.
package sla

import "time"

type Status string

const (
	OnTrack  Status = "on_track"
	DueToday Status = "due_today"
	Overdue  Status = "overdue"
)

const doneStatus = "done"

// Classify compares the calendar date of due with the calendar date of now,
// both taken in now's location. Missing due dates and finished tasks are
// always on track.
func Classify(due *time.Time, status string, now time.Time) Status {
	if due == nil || status == doneStatus {
		return OnTrack
	}
	d := Day(due.In(now.Location()))
	today := Day(now)
	switch {
	case d.Before(today):
		return Overdue
	case d.Equal(today):
		return DueToday
	default:
		return OnTrack
	}
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
