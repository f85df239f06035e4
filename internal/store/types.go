package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// ErrNotPending is returned when a queue write targets an entry another
// processor already settled.
var ErrNotPending = errors.New("queue entry no longer pending")

// QueueEntry is one scheduled send: one row per prayer per calendar day.
type QueueEntry struct {
	ID          string     `json:"id"`
	Prayer      string     `json:"prayer"`
	DayDate     string     `json:"dayDate"`
	ScheduledAt time.Time  `json:"scheduledAt"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"lastError,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type QueueInsert struct {
	ID          string
	Prayer      string
	DayDate     string
	ScheduledAt time.Time
	Now         time.Time
}

// QueueAttemptUpdate records the outcome of one processing attempt; attempts
// is incremented by the store.
type QueueAttemptUpdate struct {
	ID        string
	Status    string
	LastError string
	SentAt    *time.Time
	Now       time.Time
}

type QueueFilter struct {
	Status  string
	DayDate string
}

// HistoryRecord is one delivery attempt to one recipient.
type HistoryRecord struct {
	ID       string    `json:"id"`
	Token    string    `json:"token"`
	Platform string    `json:"platform"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Prayer   string    `json:"prayer"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	SentAt   time.Time `json:"sentAt"`
	DayDate  string    `json:"dayDate"`
}

type HistoryFilter struct {
	Status  string
	Prayer  string
	DayDate string
}

// HistoryStats are ledger aggregates; they replace in-process counters.
type HistoryStats struct {
	Sent       int        `json:"sent"`
	Failed     int        `json:"failed"`
	LastSentAt *time.Time `json:"lastSentAt,omitempty"`
}

// RecipientToken is a registered push endpoint for one device.
type RecipientToken struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type TokenUpsert struct {
	ID       string
	Token    string
	Platform string
	Username string
	Now      time.Time
}

type Page struct {
	Limit  int
	Offset int
}
