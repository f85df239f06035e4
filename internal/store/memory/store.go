// Package memory is an in-process implementation of the queue, ledger and
// token stores. It backs STORE_DRIVER=memory dry runs and the package tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"azaan/internal/domain"
	"azaan/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu      sync.Mutex
	queue   map[string]*store.QueueEntry
	keys    map[string]string // prayer|dayDate -> id
	history []store.HistoryRecord
	tokens  map[string]*store.RecipientToken // by token value
	order   map[string]int                   // token value -> insertion sequence
	seq     int

	// Fail, when set, is returned by every operation (simulates an unreachable store).
	Fail error
}

func New() *Store {
	return &Store{
		queue:  map[string]*store.QueueEntry{},
		keys:   map[string]string{},
		tokens: map[string]*store.RecipientToken{},
		order:  map[string]int{},
	}
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Fail
}

// ---- queue ----

func (s *Store) InsertQueueEntry(_ context.Context, in store.QueueInsert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	key := in.Prayer + "|" + in.DayDate
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = in.ID
	s.queue[in.ID] = &store.QueueEntry{
		ID:          in.ID,
		Prayer:      in.Prayer,
		DayDate:     in.DayDate,
		ScheduledAt: in.ScheduledAt,
		Status:      string(domain.QueuePending),
		CreatedAt:   in.Now,
		UpdatedAt:   in.Now,
	}
	return true, nil
}

func (s *Store) ListDueQueueEntries(_ context.Context, dueBy time.Time) ([]store.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	var out []store.QueueEntry
	for _, e := range s.queue {
		if e.Status == string(domain.QueuePending) && !e.ScheduledAt.After(dueBy) {
			out = append(out, *e)
		}
	}
	sortQueue(out)
	return out, nil
}

func (s *Store) NextPendingAt(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return time.Time{}, false, s.Fail
	}
	var next time.Time
	found := false
	for _, e := range s.queue {
		if e.Status != string(domain.QueuePending) {
			continue
		}
		if !found || e.ScheduledAt.Before(next) {
			next, found = e.ScheduledAt, true
		}
	}
	return next, found, nil
}

func (s *Store) MarkQueueSent(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	e, ok := s.queue[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Status = string(domain.QueueSent)
	e.SentAt = &now
	e.LastError = ""
	e.UpdatedAt = now
	return nil
}

func (s *Store) CompleteQueueAttempt(_ context.Context, in store.QueueAttemptUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	e, ok := s.queue[in.ID]
	if !ok {
		return store.ErrNotFound
	}
	if e.Status != string(domain.QueuePending) {
		return store.ErrNotPending
	}
	e.Attempts++
	e.Status = in.Status
	e.LastError = in.LastError
	if in.SentAt != nil {
		at := *in.SentAt
		e.SentAt = &at
	}
	e.UpdatedAt = in.Now
	return nil
}

func (s *Store) RecordQueueError(_ context.Context, id, lastError string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	e, ok := s.queue[id]
	if !ok {
		return store.ErrNotFound
	}
	if e.Status != string(domain.QueuePending) {
		return store.ErrNotPending
	}
	e.Attempts++
	e.LastError = lastError
	e.UpdatedAt = now
	return nil
}

func (s *Store) ResetQueueEntry(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	e, ok := s.queue[id]
	if !ok || e.Status != string(domain.QueueFailed) {
		return false, nil
	}
	e.Status = string(domain.QueuePending)
	e.UpdatedAt = now
	return true, nil
}

func (s *Store) DeleteQueueCreatedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return 0, s.Fail
	}
	n := 0
	for id, e := range s.queue {
		if e.CreatedAt.Before(cutoff) {
			delete(s.keys, e.Prayer+"|"+e.DayDate)
			delete(s.queue, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) ListQueue(_ context.Context, f store.QueueFilter, p store.Page) ([]store.QueueEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, 0, s.Fail
	}
	var all []store.QueueEntry
	for _, e := range s.queue {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.DayDate != "" && e.DayDate != f.DayDate {
			continue
		}
		all = append(all, *e)
	}
	sortQueue(all)
	return paginate(all, p), len(all), nil
}

func (s *Store) GetQueueEntry(_ context.Context, id string) (store.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return store.QueueEntry{}, s.Fail
	}
	e, ok := s.queue[id]
	if !ok {
		return store.QueueEntry{}, store.ErrNotFound
	}
	return *e, nil
}

func (s *Store) DeleteQueueEntry(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	e, ok := s.queue[id]
	if !ok {
		return false, nil
	}
	delete(s.keys, e.Prayer+"|"+e.DayDate)
	delete(s.queue, id)
	return true, nil
}

// ---- history ----

func (s *Store) InsertHistory(_ context.Context, recs []store.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	s.history = append(s.history, recs...)
	return nil
}

func (s *Store) HasSentHistory(_ context.Context, prayer, dayDate string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	for _, h := range s.history {
		if h.Prayer == prayer && h.DayDate == dayDate && h.Status == string(domain.DeliverySent) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteHistoryBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return 0, s.Fail
	}
	kept := s.history[:0]
	n := 0
	for _, h := range s.history {
		if h.SentAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, h)
	}
	s.history = kept
	return n, nil
}

func (s *Store) ListHistory(_ context.Context, f store.HistoryFilter, p store.Page) ([]store.HistoryRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, 0, s.Fail
	}
	var all []store.HistoryRecord
	for i := len(s.history) - 1; i >= 0; i-- {
		h := s.history[i]
		if f.Status != "" && h.Status != f.Status {
			continue
		}
		if f.Prayer != "" && h.Prayer != f.Prayer {
			continue
		}
		if f.DayDate != "" && h.DayDate != f.DayDate {
			continue
		}
		all = append(all, h)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].SentAt.After(all[j].SentAt) })
	return paginate(all, p), len(all), nil
}

func (s *Store) DeleteHistory(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	for i, h := range s.history {
		if h.ID == id {
			s.history = append(s.history[:i], s.history[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) HistoryStats(_ context.Context) (store.HistoryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return store.HistoryStats{}, s.Fail
	}
	var st store.HistoryStats
	for _, h := range s.history {
		switch h.Status {
		case string(domain.DeliverySent):
			st.Sent++
			if st.LastSentAt == nil || h.SentAt.After(*st.LastSentAt) {
				at := h.SentAt
				st.LastSentAt = &at
			}
		case string(domain.DeliveryFailed):
			st.Failed++
		}
	}
	return st, nil
}

// History returns a copy of every ledger row in insertion order.
func (s *Store) History() []store.HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.HistoryRecord(nil), s.history...)
}

// ---- tokens ----

func (s *Store) ListTokens(_ context.Context) ([]store.RecipientToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	out := s.sortedTokens()
	// oldest first keeps chunk membership stable between runs
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) ListTokensPage(_ context.Context, p store.Page) ([]store.RecipientToken, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, 0, s.Fail
	}
	all := s.sortedTokens()
	return paginate(all, p), len(all), nil
}

func (s *Store) UpsertToken(_ context.Context, in store.TokenUpsert) (store.RecipientToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return store.RecipientToken{}, s.Fail
	}
	if t, ok := s.tokens[in.Token]; ok {
		t.Platform = in.Platform
		t.Username = in.Username
		t.UpdatedAt = in.Now
		return *t, nil
	}
	s.seq++
	t := &store.RecipientToken{
		ID:        in.ID,
		Token:     in.Token,
		Platform:  in.Platform,
		Username:  in.Username,
		CreatedAt: in.Now,
		UpdatedAt: in.Now,
	}
	s.tokens[in.Token] = t
	s.order[in.Token] = s.seq
	return *t, nil
}

func (s *Store) DeleteToken(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	for k, t := range s.tokens {
		if t.ID == id {
			delete(s.tokens, k)
			delete(s.order, k)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteTokenByValue(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	if _, ok := s.tokens[token]; !ok {
		return false, nil
	}
	delete(s.tokens, token)
	delete(s.order, token)
	return true, nil
}

// newest first; equal clocks fall back to insertion order
func (s *Store) sortedTokens() []store.RecipientToken {
	out := make([]store.RecipientToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		if t.Token == "" {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return s.order[out[i].Token] > s.order[out[j].Token]
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func sortQueue(q []store.QueueEntry) {
	sort.Slice(q, func(i, j int) bool {
		if q[i].ScheduledAt.Equal(q[j].ScheduledAt) {
			return q[i].ID < q[j].ID
		}
		return q[i].ScheduledAt.Before(q[j].ScheduledAt)
	})
}

func paginate[T any](all []T, p store.Page) []T {
	if p.Offset >= len(all) {
		return []T{}
	}
	all = all[p.Offset:]
	if p.Limit > 0 && p.Limit < len(all) {
		all = all[:p.Limit]
	}
	return all
}
