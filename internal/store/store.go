package store

import (
	"context"
	"time"
)

// Store is the full persistence surface. Consumers declare the narrower
// interfaces they need; binaries hold one of these.
type Store interface {
	Ping(ctx context.Context) error

	InsertQueueEntry(ctx context.Context, in QueueInsert) (bool, error)
	ListDueQueueEntries(ctx context.Context, dueBy time.Time) ([]QueueEntry, error)
	NextPendingAt(ctx context.Context) (time.Time, bool, error)
	MarkQueueSent(ctx context.Context, id string, now time.Time) error
	CompleteQueueAttempt(ctx context.Context, in QueueAttemptUpdate) error
	RecordQueueError(ctx context.Context, id, lastError string, now time.Time) error
	ResetQueueEntry(ctx context.Context, id string, now time.Time) (bool, error)
	DeleteQueueCreatedBefore(ctx context.Context, cutoff time.Time) (int, error)
	ListQueue(ctx context.Context, f QueueFilter, p Page) ([]QueueEntry, int, error)
	GetQueueEntry(ctx context.Context, id string) (QueueEntry, error)
	DeleteQueueEntry(ctx context.Context, id string) (bool, error)

	InsertHistory(ctx context.Context, recs []HistoryRecord) error
	HasSentHistory(ctx context.Context, prayer, dayDate string) (bool, error)
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int, error)
	ListHistory(ctx context.Context, f HistoryFilter, p Page) ([]HistoryRecord, int, error)
	DeleteHistory(ctx context.Context, id string) (bool, error)
	HistoryStats(ctx context.Context) (HistoryStats, error)

	ListTokens(ctx context.Context) ([]RecipientToken, error)
	ListTokensPage(ctx context.Context, p Page) ([]RecipientToken, int, error)
	UpsertToken(ctx context.Context, in TokenUpsert) (RecipientToken, error)
	DeleteToken(ctx context.Context, id string) (bool, error)
	DeleteTokenByValue(ctx context.Context, token string) (bool, error)
}
