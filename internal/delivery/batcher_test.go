package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azaan/internal/push"
	"azaan/internal/store"
	"azaan/internal/store/memory"
)

// scriptedTransport answers per token: tokens in fail get that error, tokens
// in chunkErr make the whole call fail.
type scriptedTransport struct {
	mu       sync.Mutex
	fail     map[string]error
	chunkErr map[string]error
	calls    [][]string
}

func (s *scriptedTransport) SendMulticast(_ context.Context, tokens []string, _ push.Message) (push.MulticastResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string(nil), tokens...))
	s.mu.Unlock()

	for _, tok := range tokens {
		if err, ok := s.chunkErr[tok]; ok {
			return push.MulticastResult{}, err
		}
	}
	responses := make([]push.SendResponse, len(tokens))
	for i, tok := range tokens {
		if err, ok := s.fail[tok]; ok {
			responses[i] = push.SendResponse{Err: err}
			continue
		}
		responses[i] = push.SendResponse{Success: true, MessageID: "m-" + tok}
	}
	return push.NewResult(responses), nil
}

func recipients(n int) []store.RecipientToken {
	out := make([]store.RecipientToken, n)
	for i := range out {
		out[i] = store.RecipientToken{Token: fmt.Sprintf("tok-%04d", i), Platform: "android"}
	}
	return out
}

func newBatcher(tr push.Transport, ledger Ledger, tokens TokenRemover) *Batcher {
	seq := 0
	var mu sync.Mutex
	return &Batcher{
		Transport: tr,
		Ledger:    ledger,
		Tokens:    tokens,
		Now:       func() time.Time { return time.Date(2025, 1, 15, 23, 43, 0, 0, time.UTC) },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("h%d", seq)
		},
	}
}

var fajr = Dispatch{Prayer: "fajr", DayDate: "2025-01-16", Clock: "05:13"}

func TestPartialFailureRecordsEveryRecipient(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rs := recipients(5)
	for _, r := range rs {
		_, err := s.UpsertToken(ctx, store.TokenUpsert{ID: r.Token, Token: r.Token, Platform: r.Platform})
		require.NoError(t, err)
	}
	tr := &scriptedTransport{fail: map[string]error{
		"tok-0001": fmt.Errorf("%w: not registered", push.ErrUnregistered),
		"tok-0003": errors.New("internal error"),
	}}
	b := newBatcher(tr, s, s)

	res, err := b.SendBatch(ctx, rs, fajr)
	require.NoError(t, err)
	b.Wait()

	assert.Equal(t, 3, res.Success)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "tok-0001", res.Errors[0].Token)
	assert.Contains(t, res.FirstError(), "not registered")

	hist := s.History()
	require.Len(t, hist, 5)
	for i, h := range hist {
		assert.Equal(t, rs[i].Token, h.Token)
		assert.Equal(t, "fajr", h.Prayer)
		assert.Equal(t, "2025-01-16", h.DayDate)
		assert.Equal(t, "Fajr Prayer Time", h.Title)
		assert.Equal(t, "It's time for fajr prayer at 05:13", h.Body)
	}
	assert.Equal(t, "failed", hist[1].Status)
	assert.Equal(t, "failed", hist[3].Status)
	assert.Equal(t, "sent", hist[4].Status)

	left, err := s.ListTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, left, 4, "unregistered token is removed")
	for _, tok := range left {
		assert.NotEqual(t, "tok-0001", tok.Token)
	}
}

func TestChunksAtProviderLimitWithPositionalAttribution(t *testing.T) {
	for _, conc := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency=%d", conc), func(t *testing.T) {
			s := memory.New()
			rs := recipients(1201)
			fail := map[string]error{}
			for i := 0; i < len(rs); i += 7 {
				fail[rs[i].Token] = errors.New("rejected")
			}
			tr := &scriptedTransport{fail: fail}
			b := newBatcher(tr, s, nil)
			b.ChunkConcurrency = conc

			res, err := b.SendBatch(context.Background(), rs, fajr)
			require.NoError(t, err)

			require.Len(t, tr.calls, 3)
			sizes := map[int]int{}
			for _, c := range tr.calls {
				sizes[len(c)]++
			}
			assert.Equal(t, map[int]int{500: 2, 201: 1}, sizes)

			assert.Equal(t, len(fail), res.Failed)
			assert.Equal(t, len(rs)-len(fail), res.Success)

			hist := s.History()
			require.Len(t, hist, len(rs))
			for _, h := range hist {
				_, shouldFail := fail[h.Token]
				if shouldFail {
					assert.Equal(t, "failed", h.Status, h.Token)
					assert.Equal(t, "rejected", h.Error)
				} else {
					assert.Equal(t, "sent", h.Status, h.Token)
				}
			}
		})
	}
}

func TestChunkFaultFailsWholeChunkOnly(t *testing.T) {
	s := memory.New()
	rs := recipients(5)
	tr := &scriptedTransport{chunkErr: map[string]error{"tok-0003": errors.New("connection reset")}}
	b := newBatcher(tr, s, nil)
	b.ChunkSize = 2

	res, err := b.SendBatch(context.Background(), rs, fajr)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Success)
	assert.Equal(t, 2, res.Failed)

	hist := s.History()
	require.Len(t, hist, 5)
	byToken := map[string]store.HistoryRecord{}
	for _, h := range hist {
		byToken[h.Token] = h
	}
	assert.Equal(t, "failed", byToken["tok-0002"].Status)
	assert.Equal(t, "connection reset", byToken["tok-0002"].Error)
	assert.Equal(t, "failed", byToken["tok-0003"].Status)
	assert.Equal(t, "sent", byToken["tok-0004"].Status)
}

func TestUnauthenticatedIsSystemic(t *testing.T) {
	s := memory.New()
	rs := recipients(3)
	tr := &scriptedTransport{chunkErr: map[string]error{"tok-0000": fmt.Errorf("%w: bad key", push.ErrUnauthenticated)}}
	b := newBatcher(tr, s, nil)

	res, err := b.SendBatch(context.Background(), rs, fajr)
	assert.ErrorIs(t, err, push.ErrUnauthenticated)
	assert.Equal(t, 3, res.Failed)
	assert.Len(t, s.History(), 3)
}

func TestAllChunksUnavailable(t *testing.T) {
	s := memory.New()
	rs := recipients(4)
	shed := fmt.Errorf("%w: breaker open", push.ErrUnavailable)
	tr := &scriptedTransport{chunkErr: map[string]error{"tok-0000": shed, "tok-0002": shed}}
	b := newBatcher(tr, s, nil)
	b.ChunkSize = 2

	res, err := b.SendBatch(context.Background(), rs, fajr)
	assert.ErrorIs(t, err, push.ErrUnavailable)
	assert.ErrorContains(t, err, "breaker open")
	assert.Equal(t, 4, res.Failed)
}

func TestProviderOutageIsChunkFault(t *testing.T) {
	s := memory.New()
	rs := recipients(4)
	outage := errors.New("fcm: 503 service unavailable")
	tr := &scriptedTransport{chunkErr: map[string]error{"tok-0000": outage, "tok-0002": outage}}
	b := newBatcher(tr, s, nil)
	b.ChunkSize = 2

	res, err := b.SendBatch(context.Background(), rs, fajr)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Failed)
	assert.Contains(t, res.FirstError(), "503")
	assert.Len(t, s.History(), 4)
}

func TestLedgerFailureDoesNotFailBatch(t *testing.T) {
	s := memory.New()
	s.Fail = errors.New("ledger down")
	tr := &scriptedTransport{}
	b := newBatcher(tr, s, nil)

	res, err := b.SendBatch(context.Background(), recipients(2), fajr)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Success)
	assert.ErrorContains(t, res.HistoryErr, "ledger down")
}

func TestEmptyRecipients(t *testing.T) {
	tr := &scriptedTransport{}
	b := newBatcher(tr, memory.New(), nil)
	res, err := b.SendBatch(context.Background(), nil, fajr)
	require.NoError(t, err)
	assert.Zero(t, res.Success)
	assert.Empty(t, tr.calls)
}

type failingRemover struct{}

func (failingRemover) DeleteTokenByValue(context.Context, string) (bool, error) {
	return false, errors.New("store offline")
}

func TestInvalidTokenLogsOnlyPrefix(t *testing.T) {
	const device = "eXbC9q1RTkq:APA91bGdeviceSecretTail"
	var buf bytes.Buffer
	tr := &scriptedTransport{fail: map[string]error{
		device: fmt.Errorf("%w: not registered", push.ErrUnregistered),
	}}
	b := newBatcher(tr, memory.New(), failingRemover{})
	b.Logger = slog.New(slog.NewJSONHandler(&buf, nil))

	_, err := b.SendBatch(context.Background(), []store.RecipientToken{{Token: device, Platform: "android"}}, fajr)
	require.NoError(t, err)
	b.Wait()

	logs := buf.String()
	assert.Contains(t, logs, "invalid token detected")
	assert.Contains(t, logs, "invalid token removal failed")
	assert.Contains(t, logs, `"token_prefix":"eXbC9q1R..."`)
	assert.NotContains(t, logs, "deviceSecretTail")
}
