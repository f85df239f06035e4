package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"azaan/internal/store"
)

const uniqueViolation = "23505"

var _ store.Store = (*Store)(nil)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

// ---- queue ----

const queueColumns = `id, prayer, day_date, scheduled_at, status, attempts, COALESCE(last_error,''), created_at, sent_at, updated_at`

// InsertQueueEntry creates the (prayer, day_date) row if it does not exist and
// never touches an existing one. A concurrent insert of the same key is not an
// error; inserted reports whether this call created the row.
func (s *Store) InsertQueueEntry(ctx context.Context, in store.QueueInsert) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO notification_queue (id, prayer, day_date, scheduled_at, status, attempts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,'pending',0,$5,$5)
		ON CONFLICT (prayer, day_date) DO NOTHING
	`, in.ID, in.Prayer, in.DayDate, in.ScheduledAt, in.Now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, nil
		}
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) ListDueQueueEntries(ctx context.Context, dueBy time.Time) ([]store.QueueEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+queueColumns+`
		FROM notification_queue
		WHERE status='pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC, id ASC
	`, dueBy)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanQueueEntry)
}

func (s *Store) NextPendingAt(ctx context.Context) (time.Time, bool, error) {
	var next *time.Time
	err := s.DB.QueryRow(ctx, `SELECT min(scheduled_at) FROM notification_queue WHERE status='pending'`).Scan(&next)
	if err != nil {
		return time.Time{}, false, err
	}
	if next == nil {
		return time.Time{}, false, nil
	}
	return *next, true, nil
}

// MarkQueueSent repairs an entry whose delivery is already proven by the
// ledger. It does not count as an attempt.
func (s *Store) MarkQueueSent(ctx context.Context, id string, now time.Time) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE notification_queue SET status='sent', sent_at=$2, last_error=NULL, updated_at=$2 WHERE id=$1
	`, id, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CompleteQueueAttempt(ctx context.Context, in store.QueueAttemptUpdate) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE notification_queue
		SET status=$2, attempts=attempts+1, last_error=$3, sent_at=COALESCE($4, sent_at), updated_at=$5
		WHERE id=$1 AND status='pending'
	`, in.ID, in.Status, nullIfEmpty(in.LastError), in.SentAt, in.Now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.missingQueueEntry(ctx, in.ID)
	}
	return nil
}

func (s *Store) RecordQueueError(ctx context.Context, id, lastError string, now time.Time) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE notification_queue SET attempts=attempts+1, last_error=$2, updated_at=$3
		WHERE id=$1 AND status='pending'
	`, id, nullIfEmpty(lastError), now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.missingQueueEntry(ctx, id)
	}
	return nil
}

// missingQueueEntry explains a guarded update that touched no row.
func (s *Store) missingQueueEntry(ctx context.Context, id string) error {
	var exists bool
	if err := s.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM notification_queue WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return store.ErrNotPending
	}
	return store.ErrNotFound
}

// ResetQueueEntry moves a failed entry back to pending for resubmission.
func (s *Store) ResetQueueEntry(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE notification_queue SET status='pending', updated_at=$2 WHERE id=$1 AND status='failed'
	`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) DeleteQueueCreatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM notification_queue WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (s *Store) ListQueue(ctx context.Context, f store.QueueFilter, p store.Page) ([]store.QueueEntry, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, `
		SELECT count(*) FROM notification_queue
		WHERE ($1='' OR status=$1) AND ($2='' OR day_date=$2)
	`, f.Status, f.DayDate).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.DB.Query(ctx, `
		SELECT `+queueColumns+`
		FROM notification_queue
		WHERE ($1='' OR status=$1) AND ($2='' OR day_date=$2)
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $3 OFFSET $4
	`, f.Status, f.DayDate, limitOrAll(p.Limit), p.Offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := pgx.CollectRows(rows, scanQueueEntry)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) GetQueueEntry(ctx context.Context, id string) (store.QueueEntry, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+queueColumns+` FROM notification_queue WHERE id=$1`, id)
	if err != nil {
		return store.QueueEntry{}, err
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanQueueEntry)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.QueueEntry{}, store.ErrNotFound
	}
	return e, err
}

func (s *Store) DeleteQueueEntry(ctx context.Context, id string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM notification_queue WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func scanQueueEntry(row pgx.CollectableRow) (store.QueueEntry, error) {
	var e store.QueueEntry
	err := row.Scan(&e.ID, &e.Prayer, &e.DayDate, &e.ScheduledAt, &e.Status, &e.Attempts,
		&e.LastError, &e.CreatedAt, &e.SentAt, &e.UpdatedAt)
	return e, err
}

// ---- history ----

var historyColumns = []string{"id", "token", "platform", "title", "body", "prayer", "status", "error", "sent_at", "day_date"}

// InsertHistory writes the rows with a single COPY, so a batch lands
// completely or not at all.
func (s *Store) InsertHistory(ctx context.Context, recs []store.HistoryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := s.DB.CopyFrom(ctx, pgx.Identifier{"notification_history"}, historyColumns,
		pgx.CopyFromSlice(len(recs), func(i int) ([]any, error) {
			r := recs[i]
			return []any{r.ID, r.Token, r.Platform, r.Title, r.Body, r.Prayer, r.Status, nullIfEmpty(r.Error), r.SentAt, r.DayDate}, nil
		}))
	return err
}

func (s *Store) HasSentHistory(ctx context.Context, prayer, dayDate string) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM notification_history WHERE prayer=$1 AND day_date=$2 AND status='sent')
	`, prayer, dayDate).Scan(&exists)
	return exists, err
}

func (s *Store) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM notification_history WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (s *Store) ListHistory(ctx context.Context, f store.HistoryFilter, p store.Page) ([]store.HistoryRecord, int, error) {
	const where = `WHERE ($1='' OR status=$1) AND ($2='' OR prayer=$2) AND ($3='' OR day_date=$3)`

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM notification_history `+where,
		f.Status, f.Prayer, f.DayDate).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.DB.Query(ctx, `
		SELECT id, token, platform, title, body, prayer, status, COALESCE(error,''), sent_at, day_date
		FROM notification_history `+where+`
		ORDER BY sent_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`, f.Status, f.Prayer, f.DayDate, limitOrAll(p.Limit), p.Offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.HistoryRecord, error) {
		var h store.HistoryRecord
		err := row.Scan(&h.ID, &h.Token, &h.Platform, &h.Title, &h.Body, &h.Prayer, &h.Status, &h.Error, &h.SentAt, &h.DayDate)
		return h, err
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) DeleteHistory(ctx context.Context, id string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM notification_history WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) HistoryStats(ctx context.Context) (store.HistoryStats, error) {
	var st store.HistoryStats
	err := s.DB.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status='sent'),
			count(*) FILTER (WHERE status='failed'),
			max(sent_at) FILTER (WHERE status='sent')
		FROM notification_history
	`).Scan(&st.Sent, &st.Failed, &st.LastSentAt)
	return st, err
}

// ---- tokens ----

const tokenColumns = `id, token, platform, COALESCE(username,''), created_at, updated_at`

func scanToken(row pgx.CollectableRow) (store.RecipientToken, error) {
	var t store.RecipientToken
	err := row.Scan(&t.ID, &t.Token, &t.Platform, &t.Username, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// ListTokens returns every non-empty token, oldest first.
func (s *Store) ListTokens(ctx context.Context) ([]store.RecipientToken, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+tokenColumns+` FROM device_tokens WHERE token <> '' ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanToken)
}

func (s *Store) ListTokensPage(ctx context.Context, p store.Page) ([]store.RecipientToken, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM device_tokens`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+tokenColumns+` FROM device_tokens ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2
	`, limitOrAll(p.Limit), p.Offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := pgx.CollectRows(rows, scanToken)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) UpsertToken(ctx context.Context, in store.TokenUpsert) (store.RecipientToken, error) {
	rows, err := s.DB.Query(ctx, `
		INSERT INTO device_tokens (id, token, platform, username, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		ON CONFLICT (token)
		DO UPDATE SET platform=EXCLUDED.platform, username=EXCLUDED.username, updated_at=EXCLUDED.updated_at
		RETURNING `+tokenColumns,
		in.ID, in.Token, in.Platform, nullIfEmpty(in.Username), in.Now)
	if err != nil {
		return store.RecipientToken{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanToken)
}

func (s *Store) DeleteToken(ctx context.Context, id string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM device_tokens WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) DeleteTokenByValue(ctx context.Context, token string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM device_tokens WHERE token=$1`, token)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil // LIMIT NULL means no limit
	}
	return limit
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
