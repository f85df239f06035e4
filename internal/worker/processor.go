// Package worker turns due queue entries into deliveries.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"azaan/internal/delivery"
	"azaan/internal/domain"
	"azaan/internal/lease"
	"azaan/internal/observability"
	"azaan/internal/push"
	sqsqueue "azaan/internal/queue/sqs"
	"azaan/internal/store"
)

const DefaultWindow = 5 * time.Minute

type Store interface {
	ListDueQueueEntries(ctx context.Context, dueBy time.Time) ([]store.QueueEntry, error)
	GetQueueEntry(ctx context.Context, id string) (store.QueueEntry, error)
	HasSentHistory(ctx context.Context, prayer, dayDate string) (bool, error)
	MarkQueueSent(ctx context.Context, id string, now time.Time) error
	CompleteQueueAttempt(ctx context.Context, in store.QueueAttemptUpdate) error
	RecordQueueError(ctx context.Context, id, lastError string, now time.Time) error
}

type Recipients interface {
	Recipients(ctx context.Context) ([]store.RecipientToken, error)
}

type Sender interface {
	SendBatch(ctx context.Context, recipients []store.RecipientToken, d delivery.Dispatch) (delivery.Result, error)
}

type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, ev sqsqueue.OutcomeEvent) error
}

type Processor struct {
	Store      Store
	Recipients Recipients
	Sender     Sender
	Lease      lease.Locker     // nil means no cross-process lease
	Outcomes   OutcomePublisher // nil disables outcome events
	Window     time.Duration
	Location   *time.Location // zone used to render the prayer time in the message
	Logger     *slog.Logger
}

// Summary describes one ProcessDue run.
type Summary struct {
	Due         int `json:"due"`
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
	Repaired    int `json:"repaired"`
	Stalled     int `json:"stalled"`
	Deferred    int `json:"deferred"`
	Contended   int `json:"contended"`
	Skipped     int `json:"skipped"`
	Errored     int `json:"errored"`
	Delivered   int `json:"delivered"`
	Undelivered int `json:"undelivered"`
}

type outcome string

const (
	outcomeSent      outcome = "sent"
	outcomeFailed    outcome = "failed"
	outcomeRepaired  outcome = "repaired"
	outcomeStalled   outcome = "stalled"
	outcomeDeferred  outcome = "deferred"
	outcomeContended outcome = "contended"
	outcomeSkipped   outcome = "skipped"
)

// run holds state scoped to one ProcessDue call.
type run struct {
	now        time.Time
	recipients []store.RecipientToken
	loaded     bool
	summary    Summary
}

// ProcessDue handles every pending entry scheduled at or before now+Window,
// earliest first. Failures of one entry never stop the others; the returned
// error is set only when the queue cannot be listed or the transport reports
// a systemic auth failure.
func (p *Processor) ProcessDue(ctx context.Context, now time.Time) (Summary, error) {
	log := p.logger()
	due, err := p.Store.ListDueQueueEntries(ctx, now.Add(p.window()))
	if err != nil {
		return Summary{}, fmt.Errorf("list due queue entries: %w", err)
	}

	r := &run{now: now}
	r.summary.Due = len(due)
	for _, e := range due {
		if ctx.Err() != nil {
			return r.summary, ctx.Err()
		}
		out, err := p.processEntry(ctx, r, e)
		var settled settledError
		if errors.As(err, &settled) {
			r.count(out)
			return r.summary, fmt.Errorf("push transport rejected credentials: %w", settled.err)
		}
		if err != nil {
			r.summary.Errored++
			observability.Dispatches.WithLabelValues("error").Inc()
			log.ErrorContext(ctx, "queue entry processing failed",
				"queue_id", e.ID,
				"prayer", e.Prayer,
				"day_date", e.DayDate,
				"err", err,
			)
			if rerr := p.Store.RecordQueueError(ctx, e.ID, err.Error(), now); rerr != nil && !errors.Is(rerr, store.ErrNotPending) {
				log.ErrorContext(ctx, "record queue error failed", "queue_id", e.ID, "err", rerr)
			}
			if errors.Is(err, push.ErrUnauthenticated) {
				return r.summary, fmt.Errorf("push transport rejected credentials: %w", err)
			}
			continue
		}
		r.count(out)
	}
	return r.summary, nil
}

func (r *run) count(out outcome) {
	observability.Dispatches.WithLabelValues(string(out)).Inc()
	switch out {
	case outcomeSent:
		r.summary.Sent++
	case outcomeFailed:
		r.summary.Failed++
	case outcomeRepaired:
		r.summary.Repaired++
	case outcomeStalled:
		r.summary.Stalled++
	case outcomeDeferred:
		r.summary.Deferred++
	case outcomeContended:
		r.summary.Contended++
	case outcomeSkipped:
		r.summary.Skipped++
	}
}

// settledError stops the run after the entry already reached its new state.
type settledError struct{ err error }

func (e settledError) Error() string { return e.err.Error() }
func (e settledError) Unwrap() error { return e.err }

func (p *Processor) processEntry(ctx context.Context, r *run, e store.QueueEntry) (outcome, error) {
	log := p.logger().With("queue_id", e.ID, "prayer", e.Prayer, "day_date", e.DayDate)

	if p.Lease != nil {
		release, ok, err := p.Lease.Acquire(ctx, lease.Key(e.Prayer, e.DayDate))
		switch {
		case err != nil:
			// queue and ledger checks below still dedupe without the lease
			log.WarnContext(ctx, "dispatch lease unavailable, continuing without it", "err", err)
		case !ok:
			log.InfoContext(ctx, "dispatch lease held elsewhere, skipping")
			return outcomeContended, nil
		default:
			defer release(context.WithoutCancel(ctx))
		}
	}

	// another processor may have finished the entry since it was listed
	cur, err := p.Store.GetQueueEntry(ctx, e.ID)
	if errors.Is(err, store.ErrNotFound) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("reload queue entry: %w", err)
	}
	if cur.Status != string(domain.QueuePending) {
		return outcomeSkipped, nil
	}

	sent, err := p.Store.HasSentHistory(ctx, e.Prayer, e.DayDate)
	if err != nil {
		return "", fmt.Errorf("check history: %w", err)
	}
	if sent {
		if err := p.Store.MarkQueueSent(ctx, e.ID, r.now); err != nil {
			return "", fmt.Errorf("repair queue entry: %w", err)
		}
		log.InfoContext(ctx, "already delivered, queue entry repaired")
		p.publish(ctx, e, string(domain.QueueSent), delivery.Result{}, "")
		return outcomeRepaired, nil
	}

	recipients, err := p.recipients(ctx, r)
	if err != nil {
		return "", fmt.Errorf("load recipients: %w", err)
	}
	if len(recipients) == 0 {
		log.WarnContext(ctx, "no recipients registered, leaving entry pending")
		return outcomeStalled, nil
	}

	res, sendErr := p.Sender.SendBatch(ctx, recipients, delivery.Dispatch{
		Prayer:  e.Prayer,
		DayDate: e.DayDate,
		Clock:   p.clock(e.ScheduledAt),
	})
	r.summary.Delivered += res.Success
	r.summary.Undelivered += res.Failed
	if res.HistoryErr != nil {
		log.WarnContext(ctx, "delivery ledger incomplete", "err", res.HistoryErr)
	}

	if sendErr != nil && res.Success == 0 {
		if errors.Is(sendErr, push.ErrUnavailable) {
			log.WarnContext(ctx, "push transport shedding load, leaving entry pending", "err", sendErr)
			if err := p.Store.RecordQueueError(ctx, e.ID, sendErr.Error(), r.now); err != nil && !errors.Is(err, store.ErrNotPending) {
				log.WarnContext(ctx, "record deferral failed", "err", err)
			}
			return outcomeDeferred, nil
		}
		return "", sendErr
	}

	upd := store.QueueAttemptUpdate{ID: e.ID, Now: r.now}
	out := outcomeSent
	if res.Success > 0 {
		upd.Status = string(domain.QueueSent)
		sentAt := r.now
		upd.SentAt = &sentAt
	} else {
		out = outcomeFailed
		upd.Status = string(domain.QueueFailed)
		upd.LastError = res.FirstError()
		if upd.LastError == "" {
			upd.LastError = "unknown"
		}
	}
	if err := p.Store.CompleteQueueAttempt(ctx, upd); err != nil {
		if !errors.Is(err, store.ErrNotPending) {
			return "", fmt.Errorf("complete queue entry: %w", err)
		}
		// another processor settled it while this send was in flight
		log.WarnContext(ctx, "queue entry settled elsewhere, keeping its status",
			"status", upd.Status,
			"success", res.Success,
			"failed", res.Failed,
		)
		if errors.Is(sendErr, push.ErrUnauthenticated) {
			return outcomeSkipped, settledError{err: sendErr}
		}
		return outcomeSkipped, nil
	}
	log.InfoContext(ctx, "queue entry processed",
		"status", upd.Status,
		"success", res.Success,
		"failed", res.Failed,
	)
	p.publish(ctx, e, upd.Status, res, upd.LastError)

	if errors.Is(sendErr, push.ErrUnauthenticated) {
		// partially delivered before the credentials were rejected
		return out, settledError{err: sendErr}
	}
	return out, nil
}

func (p *Processor) recipients(ctx context.Context, r *run) ([]store.RecipientToken, error) {
	if r.loaded {
		return r.recipients, nil
	}
	rs, err := p.Recipients.Recipients(ctx)
	if err != nil {
		return nil, err
	}
	r.recipients = rs
	r.loaded = true
	return rs, nil
}

func (p *Processor) publish(ctx context.Context, e store.QueueEntry, status string, res delivery.Result, lastErr string) {
	if p.Outcomes == nil {
		return
	}
	err := p.Outcomes.PublishOutcome(ctx, sqsqueue.OutcomeEvent{
		QueueID:    e.ID,
		Prayer:     e.Prayer,
		DayDate:    e.DayDate,
		Status:     status,
		Success:    res.Success,
		Failed:     res.Failed,
		LastError:  lastErr,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		p.logger().WarnContext(ctx, "publish outcome failed", "queue_id", e.ID, "err", err)
	}
}

func (p *Processor) clock(at time.Time) string {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	return at.In(loc).Format("15:04")
}

func (p *Processor) window() time.Duration {
	if p.Window <= 0 {
		return DefaultWindow
	}
	return p.Window
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
