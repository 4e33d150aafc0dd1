package sla_test

import (
	"testing"
	"time"

	"greenline/internal/sla"
)

func TestClassify(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)
	day := func(y int, m time.Month, d, h int) *time.Time {
		v := time.Date(y, m, d, h, 0, 0, 0, time.UTC)
		return &v
	}
	cases := []struct {
		name   string
		due    *time.Time
		status string
		want   sla.Status
	}{
		{"no due date", nil, "to_do", sla.OnTrack},
		{"done and past due", day(2024, 3, 1, 0), "done", sla.OnTrack},
		{"yesterday", day(2024, 3, 9, 23), "doing", sla.Overdue},
		{"today earlier hour", day(2024, 3, 10, 1), "to_do", sla.DueToday},
		{"today later hour", day(2024, 3, 10, 23), "blocked", sla.DueToday},
		{"tomorrow", day(2024, 3, 11, 0), "to_do", sla.OnTrack},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sla.Classify(tc.due, tc.status, now); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestClassifyUsesClockLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	// 2024-03-10 22:00 UTC is already 2024-03-11 in UTC+10.
	now := time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC).In(loc)
	due := time.Date(2024, 3, 10, 0, 0, 0, 0, loc)
	if got := sla.Classify(&due, "to_do", now); got != sla.Overdue {
		t.Fatalf("got %s want overdue", got)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	due := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	first := sla.Classify(&due, "doing", now)
	for i := 0; i < 100; i++ {
		if got := sla.Classify(&due, "doing", now); got != first {
			t.Fatalf("iteration %d: got %s want %s", i, got, first)
		}
	}
}
