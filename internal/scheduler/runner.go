package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"azaan/internal/observability"
	sqsqueue "azaan/internal/queue/sqs"
	"azaan/internal/schedule"
	"azaan/internal/worker"
)

const (
	DefaultInterval = time.Minute
	minWake         = time.Second
)

type Days interface {
	StartOfDay(t time.Time) time.Time
	NextDay(t time.Time) time.Time
}

type DueProcessor interface {
	ProcessDue(ctx context.Context, now time.Time) (worker.Summary, error)
}

type PendingSource interface {
	NextPendingAt(ctx context.Context) (time.Time, bool, error)
}

// Runner performs scheduler ticks: plan today and tomorrow, dispatch what is
// due, then sweep. Every tick derives its work from persisted state only.
type Runner struct {
	Days         Days
	Materializer *Materializer
	Processor    DueProcessor
	Sweeper      *Sweeper
	Pending      PendingSource // optional, enables early wake in Run

	Interval time.Duration
	Window   time.Duration // lookahead used by Processor; Run wakes this early
	Logger   *slog.Logger
	Now      func() time.Time
}

type TickReport struct {
	Materialized int            `json:"materialized"`
	Dispatch     worker.Summary `json:"dispatch"`
	Cleanup      CleanupResult  `json:"cleanup"`
}

// Tick runs one full pass at now. A day whose prayer times cannot be computed
// is skipped with a warning; every other failure is returned, joined, after
// the remaining steps have run.
func (r *Runner) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	log := r.logger()
	start := time.Now()
	defer func() { observability.TickDuration.Observe(time.Since(start).Seconds()) }()

	var (
		rep  TickReport
		errs []error
	)

	today := r.Days.StartOfDay(now)
	for _, day := range []time.Time{today, r.Days.NextDay(today)} {
		n, err := r.Materializer.Materialize(ctx, day, now)
		rep.Materialized += n
		switch {
		case errors.Is(err, schedule.ErrUnavailable):
			log.WarnContext(ctx, "prayer times unavailable, day skipped", "day", day.Format("2006-01-02"), "err", err)
		case err != nil:
			errs = append(errs, fmt.Errorf("materialize %s: %w", day.Format("2006-01-02"), err))
		}
	}

	sum, err := r.Processor.ProcessDue(ctx, now)
	rep.Dispatch = sum
	if err != nil {
		errs = append(errs, fmt.Errorf("process due: %w", err))
	}

	if r.Sweeper != nil {
		res, err := r.Sweeper.Cleanup(ctx, now)
		rep.Cleanup = res
		if err != nil {
			errs = append(errs, fmt.Errorf("cleanup: %w", err))
		}
	}

	log.InfoContext(ctx, "tick complete",
		"materialized", rep.Materialized,
		"due", sum.Due,
		"sent", sum.Sent,
		"failed", sum.Failed,
		"repaired", sum.Repaired,
		"stalled", sum.Stalled,
		"errored", sum.Errored,
		"duration", time.Since(start),
	)
	return rep, errors.Join(errs...)
}

// Run ticks until ctx is cancelled. Between ticks it sleeps for Interval, or
// less when the earliest pending entry enters the lookahead window sooner.
// Tick errors are logged and do not stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	log := r.logger()
	for {
		now := r.now()
		if _, err := r.Tick(ctx, now); err != nil {
			log.ErrorContext(ctx, "tick failed", "err", err)
		}

		wait := r.nextWait(ctx, r.now())
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// HandleTrigger adapts Tick to the SQS trigger consumer.
func (r *Runner) HandleTrigger(ctx context.Context, trigger sqsqueue.TickTrigger) error {
	r.logger().InfoContext(ctx, "tick triggered", "reason", trigger.Reason)
	_, err := r.Tick(ctx, r.now())
	return err
}

func (r *Runner) nextWait(ctx context.Context, now time.Time) time.Duration {
	wait := r.Interval
	if wait <= 0 {
		wait = DefaultInterval
	}
	if r.Pending == nil {
		return wait
	}
	next, ok, err := r.Pending.NextPendingAt(ctx)
	if err != nil || !ok {
		return wait
	}
	until := next.Add(-r.Window).Sub(now)
	if until < minWake {
		// already due; the processor left it pending (e.g. no recipients),
		// so keep the regular cadence instead of spinning
		return wait
	}
	return min(wait, until)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
