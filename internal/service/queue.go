package service

import (
	"context"
	"log/slog"
	"time"

	sqsqueue "azaan/internal/queue/sqs"
	"azaan/internal/store"
)

const DefaultQueuePageLimit = 50

type QueueStore interface {
	ListQueue(ctx context.Context, f store.QueueFilter, p store.Page) ([]store.QueueEntry, int, error)
	DeleteQueueEntry(ctx context.Context, id string) (bool, error)
	ResetQueueEntry(ctx context.Context, id string, now time.Time) (bool, error)
}

type TickRequester interface {
	SendTick(ctx context.Context, trigger sqsqueue.TickTrigger) error
}

type QueueService struct {
	Store  QueueStore
	Ticks  TickRequester // optional
	Logger *slog.Logger
}

// List returns entries ordered by scheduled time, earliest first.
func (s *QueueService) List(ctx context.Context, f store.QueueFilter, page PageRequest) ([]store.QueueEntry, Pagination, error) {
	page = page.normalize(DefaultQueuePageLimit)
	entries, total, err := s.Store.ListQueue(ctx, f, page.store())
	if err != nil {
		return nil, Pagination{}, err
	}
	return entries, newPagination(total, page), nil
}

func (s *QueueService) Delete(ctx context.Context, id string) (bool, error) {
	return s.Store.DeleteQueueEntry(ctx, id)
}

// Reset moves a failed entry back to pending so the next tick dispatches it
// again. It reports false when the entry is missing or not failed. When a
// tick queue is configured a tick is requested right away; failing to
// request one only delays the resend until the next regular tick.
func (s *QueueService) Reset(ctx context.Context, id string, now time.Time) (bool, error) {
	ok, err := s.Store.ResetQueueEntry(ctx, id, now)
	if err != nil || !ok {
		return ok, err
	}
	if s.Ticks != nil {
		trigger := sqsqueue.TickTrigger{Reason: "queue reset " + id, RequestedAt: now}
		if err := s.Ticks.SendTick(ctx, trigger); err != nil {
			s.logger().WarnContext(ctx, "tick request failed", "err", err, "queue_id", id)
		}
	}
	return true, nil
}

func (s *QueueService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
