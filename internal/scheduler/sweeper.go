package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"azaan/internal/observability"
)

const (
	DefaultQueueRetention   = 3 * 24 * time.Hour
	DefaultHistoryRetention = 30 * 24 * time.Hour
)

type RetentionStore interface {
	DeleteQueueCreatedBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type Sweeper struct {
	Store            RetentionStore
	QueueRetention   time.Duration
	HistoryRetention time.Duration
	Logger           *slog.Logger
}

type CleanupResult struct {
	QueueDeleted   int `json:"queueDeleted"`
	HistoryDeleted int `json:"historyDeleted"`
}

// Cleanup removes queue entries created before now-QueueRetention, whatever
// their status, and ledger rows sent before now-HistoryRetention. Both
// sweeps run even if the other fails.
func (s *Sweeper) Cleanup(ctx context.Context, now time.Time) (CleanupResult, error) {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	var (
		res  CleanupResult
		errs []error
		err  error
	)

	res.QueueDeleted, err = s.Store.DeleteQueueCreatedBefore(ctx, now.Add(-retention(s.QueueRetention, DefaultQueueRetention)))
	if err != nil {
		errs = append(errs, fmt.Errorf("queue sweep: %w", err))
	} else if res.QueueDeleted > 0 {
		observability.Swept.WithLabelValues("notification_queue").Add(float64(res.QueueDeleted))
	}

	res.HistoryDeleted, err = s.Store.DeleteHistoryBefore(ctx, now.Add(-retention(s.HistoryRetention, DefaultHistoryRetention)))
	if err != nil {
		errs = append(errs, fmt.Errorf("history sweep: %w", err))
	} else if res.HistoryDeleted > 0 {
		observability.Swept.WithLabelValues("notification_history").Add(float64(res.HistoryDeleted))
	}

	if res.QueueDeleted > 0 || res.HistoryDeleted > 0 {
		log.InfoContext(ctx, "retention sweep", "queue_deleted", res.QueueDeleted, "history_deleted", res.HistoryDeleted)
	}
	return res, errors.Join(errs...)
}

// CleanupHistory runs only the ledger sweep.
func (s *Sweeper) CleanupHistory(ctx context.Context, now time.Time) (int, error) {
	n, err := s.Store.DeleteHistoryBefore(ctx, now.Add(-retention(s.HistoryRetention, DefaultHistoryRetention)))
	if err != nil {
		return 0, err
	}
	observability.Swept.WithLabelValues("notification_history").Add(float64(n))
	return n, nil
}

func retention(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
