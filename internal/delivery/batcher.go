// Package delivery fans one prayer notification out to every recipient in
// provider-sized chunks and records a ledger row per recipient.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"azaan/internal/domain"
	"azaan/internal/observability"
	"azaan/internal/push"
	"azaan/internal/store"
	"azaan/internal/util"
)

const (
	DefaultChunkSize      = 500
	DefaultCleanupTimeout = 10 * time.Second
)

type Ledger interface {
	InsertHistory(ctx context.Context, recs []store.HistoryRecord) error
}

type TokenRemover interface {
	DeleteTokenByValue(ctx context.Context, token string) (bool, error)
}

// Dispatch identifies what is being delivered.
type Dispatch struct {
	Prayer  string
	DayDate string
	Clock   string
}

type RecipientError struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

type Result struct {
	Success int              `json:"success"`
	Failed  int              `json:"failed"`
	Errors  []RecipientError `json:"errors,omitempty"`
	// HistoryErr is set when a chunk's ledger rows could not be written.
	// The sends themselves already happened.
	HistoryErr error `json:"-"`
}

// FirstError is the first per-recipient error, or "" when none failed.
func (r Result) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Error
}

type Batcher struct {
	Transport push.Transport
	Ledger    Ledger
	Tokens    TokenRemover // nil disables invalid-token cleanup
	Logger    *slog.Logger

	ChunkSize        int
	ChunkConcurrency int
	BodyTemplate     string
	CleanupTimeout   time.Duration

	Now   func() time.Time
	NewID func() string

	cleanup sync.WaitGroup
}

type chunkOutcome struct {
	success    int
	failed     int
	errs       []RecipientError
	callErr    error
	historyErr error
}

// SendBatch delivers one notification for d to every recipient. Responses are
// attributed positionally within each chunk; a failed call marks the whole
// chunk failed. Every recipient gets exactly one ledger row.
//
// The returned error is non-nil only when the transport is systemically
// broken (ErrUnauthenticated) or every chunk was shed locally by the rate
// limit or breaker (ErrUnavailable). Provider outage replies are ordinary
// chunk faults. The Result is still complete in every case.
func (b *Batcher) SendBatch(ctx context.Context, recipients []store.RecipientToken, d Dispatch) (Result, error) {
	if len(recipients) == 0 {
		return Result{}, nil
	}
	msg := push.PrayerMessage(d.Prayer, d.Clock, b.BodyTemplate)
	chunks := chunk(recipients, b.chunkSize())
	outcomes := make([]chunkOutcome, len(chunks))

	var g errgroup.Group
	g.SetLimit(max(b.ChunkConcurrency, 1))
	for i, c := range chunks {
		g.Go(func() error {
			outcomes[i] = b.sendChunk(ctx, c, d, msg)
			return nil
		})
	}
	_ = g.Wait()

	var (
		res    Result
		unauth error
		shed   error
		nshed  int
	)
	for i, o := range outcomes {
		res.Success += o.success
		res.Failed += o.failed
		res.Errors = append(res.Errors, o.errs...)
		if o.historyErr != nil {
			res.HistoryErr = errors.Join(res.HistoryErr, fmt.Errorf("chunk %d: %w", i, o.historyErr))
		}
		switch {
		case errors.Is(o.callErr, push.ErrUnauthenticated):
			if unauth == nil {
				unauth = o.callErr
			}
		case errors.Is(o.callErr, push.ErrUnavailable):
			if shed == nil {
				shed = o.callErr
			}
			nshed++
		}
	}
	observability.Deliveries.WithLabelValues("sent").Add(float64(res.Success))
	observability.Deliveries.WithLabelValues("failed").Add(float64(res.Failed))

	if unauth != nil {
		return res, unauth
	}
	if nshed == len(chunks) {
		return res, shed
	}
	return res, nil
}

func (b *Batcher) sendChunk(ctx context.Context, recipients []store.RecipientToken, d Dispatch, msg push.Message) chunkOutcome {
	log := b.logger()
	tokens := make([]string, len(recipients))
	for i, r := range recipients {
		tokens[i] = r.Token
	}

	var o chunkOutcome
	recs := make([]store.HistoryRecord, len(recipients))
	res, err := b.Transport.SendMulticast(ctx, tokens, msg)
	if err == nil && len(res.Responses) != len(tokens) {
		err = fmt.Errorf("push: %d responses for %d tokens", len(res.Responses), len(tokens))
	}
	if err != nil {
		o.callErr = err
		log.ErrorContext(ctx, "batch send failed",
			"prayer", d.Prayer,
			"day_date", d.DayDate,
			"batch_size", len(tokens),
			"err", err,
		)
	}

	sentAt := b.now()
	for i, r := range recipients {
		rec := store.HistoryRecord{
			ID:       b.newID(),
			Token:    r.Token,
			Platform: platformOf(r),
			Title:    msg.Title,
			Body:     msg.Body,
			Prayer:   d.Prayer,
			SentAt:   sentAt,
			DayDate:  d.DayDate,
		}

		var recErr error
		switch {
		case err != nil:
			recErr = err
		case res.Responses[i].Success:
			rec.Status = string(domain.DeliverySent)
			o.success++
		default:
			recErr = res.Responses[i].Err
			if recErr == nil {
				recErr = errors.New("unknown error")
			}
			if push.IsInvalidToken(recErr) {
				b.removeToken(r.Token)
			}
		}
		if recErr != nil {
			rec.Status = string(domain.DeliveryFailed)
			rec.Error = recErr.Error()
			o.failed++
			o.errs = append(o.errs, RecipientError{Token: r.Token, Error: rec.Error})
		}
		recs[i] = rec
	}

	if err := b.Ledger.InsertHistory(ctx, recs); err != nil {
		o.historyErr = err
		log.ErrorContext(ctx, "history insert failed",
			"prayer", d.Prayer,
			"day_date", d.DayDate,
			"rows", len(recs),
			"err", err,
		)
	}
	return o
}

// removeToken deletes an invalid token in the background. It never blocks the
// batch and outlives the caller's context, bounded by CleanupTimeout.
func (b *Batcher) removeToken(token string) {
	if b.Tokens == nil {
		return
	}
	timeout := b.CleanupTimeout
	if timeout <= 0 {
		timeout = DefaultCleanupTimeout
	}
	log := b.logger().With("token_prefix", util.TokenPrefix(token))
	log.Warn("invalid token detected, removing")

	b.cleanup.Add(1)
	go func() {
		defer b.cleanup.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := b.Tokens.DeleteTokenByValue(ctx, token); err != nil {
			log.Warn("invalid token removal failed", "err", err)
		}
	}()
}

// Wait blocks until every scheduled token removal has finished.
func (b *Batcher) Wait() { b.cleanup.Wait() }

func chunk(recipients []store.RecipientToken, size int) [][]store.RecipientToken {
	out := make([][]store.RecipientToken, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := min(start+size, len(recipients))
		out = append(out, recipients[start:end])
	}
	return out
}

func platformOf(r store.RecipientToken) string {
	if r.Platform == "" {
		return domain.UnknownPlatform
	}
	return r.Platform
}

func (b *Batcher) chunkSize() int {
	if b.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return b.ChunkSize
}

func (b *Batcher) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now().UTC()
}

func (b *Batcher) newID() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return util.NewHistoryID()
}

func (b *Batcher) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}
