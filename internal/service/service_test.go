package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azaan/internal/domain"
	"azaan/internal/prayertime"
	"azaan/internal/push"
	sqsqueue "azaan/internal/queue/sqs"
	"azaan/internal/schedule"
	"azaan/internal/scheduler"
	"azaan/internal/store"
	"azaan/internal/store/memory"
)

type countingCache struct{ n int }

func (c *countingCache) Invalidate() { c.n++ }

type fixedCalc struct {
	times map[string]string
	err   error
}

func (f fixedCalc) ComputeTimes(time.Time, prayertime.Coordinates, *time.Location, prayertime.Method) (map[string]string, error) {
	return f.times, f.err
}

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func engine(t *testing.T, err error) *schedule.Engine {
	return &schedule.Engine{
		Calc: fixedCalc{times: map[string]string{
			"fajr": "05:12", "dhuhr": "12:15", "asr": "15:40", "maghrib": "18:20", "isha": "19:35",
		}, err: err},
		Location: kolkata(t),
	}
}

func seqID(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func TestTokenRegisterUpsertsAndInvalidates(t *testing.T) {
	ctx := context.Background()
	cache := &countingCache{}
	svc := &TokenService{Store: memory.New(), Cache: cache, NewID: seqID("tok")}
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	first, err := svc.Register(ctx, domain.RegisterTokenRequest{Token: "  abc  "}, now)
	require.NoError(t, err)
	assert.Equal(t, "abc", first.Token)
	assert.Equal(t, domain.UnknownPlatform, first.Platform)

	second, err := svc.Register(ctx, domain.RegisterTokenRequest{Token: "abc", Platform: "android", Username: "amina"}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "android", second.Platform)
	assert.Equal(t, 2, cache.n)

	_, err = svc.Register(ctx, domain.RegisterTokenRequest{Token: "   "}, now)
	assert.ErrorIs(t, err, domain.ErrMissingFields)
	assert.Equal(t, 2, cache.n)

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTokenListPagination(t *testing.T) {
	ctx := context.Background()
	svc := &TokenService{Store: memory.New(), NewID: seqID("tok")}
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	for i := range 3 {
		_, err := svc.Register(ctx, domain.RegisterTokenRequest{Token: fmt.Sprintf("t%d", i)}, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	tokens, page, err := svc.List(ctx, PageRequest{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "t0", tokens[0].Token, "newest first")
	assert.Equal(t, Pagination{Total: 3, Page: 2, Limit: 2, Pages: 2}, page)

	_, page, err = svc.List(ctx, PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenPageLimit, page.Limit)
	assert.Equal(t, 1, page.Page)

	_, page, err = svc.List(ctx, PageRequest{Limit: 10_000})
	require.NoError(t, err)
	assert.Equal(t, MaxPageLimit, page.Limit)
}

func TestTokenDelete(t *testing.T) {
	ctx := context.Background()
	cache := &countingCache{}
	svc := &TokenService{Store: memory.New(), Cache: cache, NewID: seqID("tok")}
	tok, err := svc.Register(ctx, domain.RegisterTokenRequest{Token: "abc"}, time.Now())
	require.NoError(t, err)

	ok, err := svc.Delete(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, cache.n)

	ok, err = svc.Delete(ctx, tok.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, cache.n)
}

func TestHistoryListAndClear(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Date(2025, 2, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertHistory(ctx, []store.HistoryRecord{
		{ID: "h1", Token: "a", Prayer: "fajr", Status: "sent", SentAt: now.Add(-40 * 24 * time.Hour)},
		{ID: "h2", Token: "a", Prayer: "fajr", Status: "failed", SentAt: now.Add(-time.Hour)},
		{ID: "h3", Token: "b", Prayer: "isha", Status: "sent", SentAt: now.Add(-time.Minute)},
	}))
	svc := &HistoryService{Store: s, Cleaner: &scheduler.Sweeper{Store: s}}

	recs, page, err := svc.List(ctx, store.HistoryFilter{}, PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, DefaultHistoryPageLimit, page.Limit)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, "h3", recs[0].ID)

	recs, _, err = svc.List(ctx, store.HistoryFilter{Prayer: "fajr", Status: "failed"}, PageRequest{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "h2", recs[0].ID)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Sent)
	assert.Equal(t, 1, st.Failed)

	n, err := svc.Clear(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := svc.Delete(ctx, "h2")
	require.NoError(t, err)
	assert.True(t, ok)
	_, page, err = svc.List(ctx, store.HistoryFilter{}, PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

type recordingTicks struct {
	sent []sqsqueue.TickTrigger
	err  error
}

func (r *recordingTicks) SendTick(_ context.Context, trigger sqsqueue.TickTrigger) error {
	r.sent = append(r.sent, trigger)
	return r.err
}

func TestQueueResetOnlyFailed(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	for _, p := range []string{"fajr", "dhuhr"} {
		_, err := s.InsertQueueEntry(ctx, store.QueueInsert{ID: "q-" + p, Prayer: p, DayDate: "2025-01-15", ScheduledAt: now, Now: now})
		require.NoError(t, err)
	}
	require.NoError(t, s.CompleteQueueAttempt(ctx, store.QueueAttemptUpdate{ID: "q-fajr", Status: "failed", LastError: "boom", Now: now}))

	ticks := &recordingTicks{}
	svc := &QueueService{Store: s, Ticks: ticks}

	ok, err := svc.Reset(ctx, "q-dhuhr", now)
	require.NoError(t, err)
	assert.False(t, ok, "pending entries are not reset")
	assert.Empty(t, ticks.sent)

	ok, err = svc.Reset(ctx, "q-fajr", now)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, ticks.sent, 1)
	assert.Contains(t, ticks.sent[0].Reason, "q-fajr")

	entries, page, err := svc.List(ctx, store.QueueFilter{Status: "pending"}, PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, entries, 2)
}

func TestQueueResetToleratesTickFailure(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now()
	_, err := s.InsertQueueEntry(ctx, store.QueueInsert{ID: "q1", Prayer: "asr", DayDate: "2025-01-15", ScheduledAt: now, Now: now})
	require.NoError(t, err)
	require.NoError(t, s.CompleteQueueAttempt(ctx, store.QueueAttemptUpdate{ID: "q1", Status: "failed", Now: now}))

	svc := &QueueService{Store: s, Ticks: &recordingTicks{err: errors.New("sqs down")}}
	ok, err := svc.Reset(ctx, "q1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Delete(ctx, "q1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPrayerTimes(t *testing.T) {
	loc := kolkata(t)
	svc := &StatusService{Schedule: engine(t, nil), Location: loc}
	now := time.Date(2025, 1, 15, 23, 30, 0, 0, time.UTC) // already Jan 16 in Kolkata

	pt, err := svc.PrayerTimes("", now)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-16", pt.Date)
	assert.Equal(t, "Asia/Kolkata", pt.Timezone)
	assert.Equal(t, "05:12", pt.Times["fajr"])
	assert.Len(t, pt.Times, 5)

	pt, err = svc.PrayerTimes("2025-03-01", now)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", pt.Date)

	_, err = svc.PrayerTimes("01/03/2025", now)
	assert.ErrorIs(t, err, ErrInvalidDate)

	svc.Schedule = engine(t, errors.New("polar night"))
	_, err = svc.PrayerTimes("2025-03-01", now)
	assert.ErrorIs(t, err, schedule.ErrUnavailable)
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	loc := kolkata(t)
	s := memory.New()
	now := time.Date(2025, 1, 15, 6, 30, 0, 0, time.UTC) // 12:00 IST
	_, err := s.UpsertToken(ctx, store.TokenUpsert{ID: "t1", Token: "a", Platform: "ios", Now: now})
	require.NoError(t, err)
	_, err = s.InsertQueueEntry(ctx, store.QueueInsert{ID: "q1", Prayer: "dhuhr", DayDate: "2025-01-15", ScheduledAt: now, Now: now})
	require.NoError(t, err)
	_, err = s.InsertQueueEntry(ctx, store.QueueInsert{ID: "q2", Prayer: "fajr", DayDate: "2025-01-16", ScheduledAt: now.Add(18 * time.Hour), Now: now})
	require.NoError(t, err)

	svc := &StatusService{Schedule: engine(t, nil), Location: loc, Store: s, Started: now.Add(-90 * time.Second)}
	h := svc.Health(ctx, now)
	assert.Equal(t, "healthy", h.Status)
	assert.InDelta(t, 90, h.Uptime, 1e-9)
	assert.Equal(t, "1/15/2025, 12:00:00 PM", h.ServerTime)
	assert.Equal(t, 1, h.Tokens)
	require.Len(t, h.Queue, 1)
	assert.Equal(t, "q1", h.Queue[0].ID)
	require.NotNil(t, h.Today)
	assert.Equal(t, "2025-01-15", h.Today.Date)
	assert.Empty(t, h.Errors)

	s.Fail = errors.New("db down")
	h = svc.Health(ctx, now)
	assert.Equal(t, "degraded", h.Status)
	assert.Len(t, h.Errors, 3)
	assert.NotNil(t, h.Queue)
}

type stubTransport struct {
	resp push.SendResponse
	err  error
	got  []push.Message
}

func (s *stubTransport) SendMulticast(_ context.Context, tokens []string, msg push.Message) (push.MulticastResult, error) {
	s.got = append(s.got, msg)
	if s.err != nil {
		return push.MulticastResult{}, s.err
	}
	return push.NewResult([]push.SendResponse{s.resp}), nil
}

func TestTestSenderRecordsEveryAttempt(t *testing.T) {
	ctx := context.Background()
	loc := kolkata(t)
	now := time.Date(2025, 1, 15, 9, 34, 5, 0, time.UTC) // 15:04:05 IST

	cases := map[string]struct {
		transport  *stubTransport
		wantErr    error
		wantStatus string
		wantBody   string
	}{
		"sent": {
			transport:  &stubTransport{resp: push.SendResponse{Success: true, MessageID: "m-1"}},
			wantStatus: "sent",
			wantBody:   "This is a test notification sent at 03:04:05 PM",
		},
		"rejected token": {
			transport:  &stubTransport{resp: push.SendResponse{Err: push.ErrUnregistered}},
			wantErr:    push.ErrUnregistered,
			wantStatus: "failed",
			wantBody:   "Test failed",
		},
		"transport down": {
			transport:  &stubTransport{err: push.ErrUnavailable},
			wantErr:    push.ErrUnavailable,
			wantStatus: "failed",
			wantBody:   "Test failed",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := memory.New()
			sender := &TestSender{Transport: tc.transport, Ledger: s, Location: loc, NewID: seqID("h")}

			res, err := sender.Send(ctx, domain.TestNotificationRequest{Token: "dev-1"}, now)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "m-1", res.MessageID)
				assert.Equal(t, "03:04:05 PM", res.SentAt)
			}

			rows := s.History()
			require.Len(t, rows, 1)
			assert.Equal(t, domain.TestPrayer, rows[0].Prayer)
			assert.Equal(t, "test", rows[0].Platform)
			assert.Equal(t, tc.wantStatus, rows[0].Status)
			assert.Equal(t, tc.wantBody, rows[0].Body)
			assert.Equal(t, "2025-01-15", rows[0].DayDate)

			require.Len(t, tc.transport.got, 1)
			assert.Equal(t, "test", tc.transport.got[0].Data["type"])
			assert.Equal(t, "prayer", tc.transport.got[0].Android.ChannelID)
		})
	}
}

func TestTestSenderRequiresToken(t *testing.T) {
	s := memory.New()
	tr := &stubTransport{}
	sender := &TestSender{Transport: tr, Ledger: s, Location: time.UTC}
	_, err := sender.Send(context.Background(), domain.TestNotificationRequest{}, time.Now())
	assert.ErrorIs(t, err, domain.ErrMissingFields)
	assert.Empty(t, s.History())
	assert.Empty(t, tr.got)
}
