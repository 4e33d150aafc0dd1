// Package scheduler runs the auto-lock sweep on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"greenline/internal/engine"
)

// DefaultTimeout bounds a single scheduled sweep.
const DefaultTimeout = 5 * time.Minute

// Sweeper is the engine operation the scheduler drives.
type Sweeper interface {
	AutoLockSweep(ctx context.Context) (engine.SweepResult, error)
}

type Scheduler struct {
	sweeper  Sweeper
	schedule cron.Schedule
	loc      *time.Location
	log      zerolog.Logger
	cron     *cron.Cron
	Timeout  time.Duration
}

// New parses a standard five-field cron spec evaluated in loc.
func New(sweeper Sweeper, spec string, loc *time.Location, log zerolog.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	s := &Scheduler{
		sweeper:  sweeper,
		schedule: sched,
		loc:      loc,
		log:      log.With().Str("component", "scheduler").Logger(),
		Timeout:  DefaultTimeout,
	}
	clog := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	s.cron.Schedule(sched, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	}))
	return s, nil
}

// RunOnce performs one sweep and logs its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) (engine.SweepResult, error) {
	start := time.Now()
	res, err := s.sweeper.AutoLockSweep(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled auto-lock sweep failed")
		return res, err
	}
	s.log.Info().
		Int("candidates", res.Candidates).
		Int("locked", len(res.Locked)).
		Dur("took", time.Since(start)).
		Msg("scheduled auto-lock sweep done")
	return res, nil
}

// Next returns the first run strictly after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	return s.schedule.Next(now.In(s.loc))
}

func (s *Scheduler) Start() {
	s.log.Info().Time("next", s.Next(time.Now())).Msg("sweep scheduler started")
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
