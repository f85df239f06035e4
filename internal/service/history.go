package service

import (
	"context"
	"time"

	"azaan/internal/store"
)

const DefaultHistoryPageLimit = 50

type HistoryStore interface {
	ListHistory(ctx context.Context, f store.HistoryFilter, p store.Page) ([]store.HistoryRecord, int, error)
	DeleteHistory(ctx context.Context, id string) (bool, error)
	HistoryStats(ctx context.Context) (store.HistoryStats, error)
}

// HistoryCleaner applies the ledger retention horizon.
type HistoryCleaner interface {
	CleanupHistory(ctx context.Context, now time.Time) (int, error)
}

type HistoryService struct {
	Store   HistoryStore
	Cleaner HistoryCleaner
}

// List returns ledger rows newest first.
func (s *HistoryService) List(ctx context.Context, f store.HistoryFilter, page PageRequest) ([]store.HistoryRecord, Pagination, error) {
	page = page.normalize(DefaultHistoryPageLimit)
	recs, total, err := s.Store.ListHistory(ctx, f, page.store())
	if err != nil {
		return nil, Pagination{}, err
	}
	return recs, newPagination(total, page), nil
}

// Clear deletes rows older than the retention horizon and reports how many
// went.
func (s *HistoryService) Clear(ctx context.Context, now time.Time) (int, error) {
	return s.Cleaner.CleanupHistory(ctx, now)
}

func (s *HistoryService) Delete(ctx context.Context, id string) (bool, error) {
	return s.Store.DeleteHistory(ctx, id)
}

func (s *HistoryService) Stats(ctx context.Context) (store.HistoryStats, error) {
	return s.Store.HistoryStats(ctx)
}
