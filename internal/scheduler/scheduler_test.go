package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"greenline/internal/engine"
)

type fakeSweeper struct {
	calls int
	err   error
}

func (f *fakeSweeper) AutoLockSweep(context.Context) (engine.SweepResult, error) {
	f.calls++
	return engine.SweepResult{Today: "2024-03-10", Candidates: 2, Locked: []string{"t1"}}, f.err
}

func TestNewRejectsBadSpec(t *testing.T) {
	if _, err := New(&fakeSweeper{}, "every day", time.UTC, zerolog.Nop()); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNextHonoursLocation(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s, err := New(&fakeSweeper{}, "5 0 * * *", time.UTC, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got, want := s.Next(now), time.Date(2024, 3, 11, 0, 5, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next = %s, want %s", got, want)
	}

	plus9 := time.FixedZone("UTC+9", 9*3600)
	s, err = New(&fakeSweeper{}, "5 0 * * *", plus9, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// 12:00 UTC is 21:00 at +9, so the next local 00:05 is 15:05 UTC.
	if got, want := s.Next(now), time.Date(2024, 3, 10, 15, 5, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next = %s, want %s", got.UTC(), want)
	}
}

func TestRunOnce(t *testing.T) {
	sw := &fakeSweeper{}
	s, err := New(sw, "@daily", time.UTC, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := s.RunOnce(context.Background())
	if err != nil || len(res.Locked) != 1 || sw.calls != 1 {
		t.Fatalf("run once: %v %+v calls=%d", err, res, sw.calls)
	}
	sw.err = errors.New("db gone")
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected sweep error to surface")
	}
}

func TestStartStop(t *testing.T) {
	s, err := New(&fakeSweeper{}, "@hourly", time.UTC, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
