// Package scheduler plans queue entries from computed prayer times, keeps
// the queue and ledger within their retention horizons, and drives ticks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"azaan/internal/observability"
	"azaan/internal/schedule"
	"azaan/internal/store"
	"azaan/internal/util"
)

type DayScheduler interface {
	ComputeDaySchedule(day time.Time) (schedule.DaySchedule, error)
}

type QueueWriter interface {
	InsertQueueEntry(ctx context.Context, in store.QueueInsert) (bool, error)
}

type Materializer struct {
	Engine DayScheduler
	Queue  QueueWriter
	Logger *slog.Logger
	NewID  func() string
}

// Materialize inserts a pending entry for every prayer of day that is still
// in the future at now. Existing entries are never modified, so calling it
// any number of times, concurrently or not, yields one entry per prayer.
// It returns how many entries this call created.
func (m *Materializer) Materialize(ctx context.Context, day, now time.Time) (int, error) {
	log := m.Logger
	if log == nil {
		log = slog.Default()
	}
	sched, err := m.Engine.ComputeDaySchedule(day)
	if err != nil {
		return 0, err
	}

	created := 0
	var errs []error
	for _, pt := range sched.Times {
		if !pt.At.After(now) {
			continue
		}
		inserted, err := m.Queue.InsertQueueEntry(ctx, store.QueueInsert{
			ID:          m.newID(),
			Prayer:      string(pt.Prayer),
			DayDate:     sched.DayDate,
			ScheduledAt: pt.At.UTC(),
			Now:         now,
		})
		if err != nil {
			log.ErrorContext(ctx, "queue insert failed",
				"prayer", pt.Prayer,
				"day_date", sched.DayDate,
				"err", err,
			)
			errs = append(errs, fmt.Errorf("%s %s: %w", pt.Prayer, sched.DayDate, err))
			continue
		}
		if inserted {
			created++
			observability.Materialized.WithLabelValues(string(pt.Prayer)).Inc()
			log.InfoContext(ctx, "queue entry scheduled",
				"prayer", pt.Prayer,
				"day_date", sched.DayDate,
				"scheduled_at", pt.At,
			)
		}
	}
	return created, errors.Join(errs...)
}

func (m *Materializer) newID() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return util.NewQueueID()
}
