package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"azaan/internal/schedule"
	"azaan/internal/store"
)

var ErrInvalidDate = errors.New("date must be YYYY-MM-DD")

const serverTimeLayout = "1/2/2006, 3:04:05 PM"

type Scheduler interface {
	DayDate(t time.Time) string
	ParseDayDate(s string) (time.Time, error)
	ComputeDaySchedule(day time.Time) (schedule.DaySchedule, error)
}

type StatusStore interface {
	ListTokensPage(ctx context.Context, p store.Page) ([]store.RecipientToken, int, error)
	ListQueue(ctx context.Context, f store.QueueFilter, p store.Page) ([]store.QueueEntry, int, error)
	HistoryStats(ctx context.Context) (store.HistoryStats, error)
}

type StatusService struct {
	Schedule Scheduler
	Location *time.Location
	Store    StatusStore
	Started  time.Time
}

type PrayerTimes struct {
	Date     string            `json:"date"`
	Times    map[string]string `json:"times"`
	Timezone string            `json:"timezone"`
}

type Health struct {
	Status     string             `json:"status"`
	Uptime     float64            `json:"uptime"`
	Timestamp  time.Time          `json:"timestamp"`
	ServerTime string             `json:"serverTime"`
	Today      *PrayerTimes       `json:"today,omitempty"`
	Tokens     int                `json:"tokens"`
	Stats      store.HistoryStats `json:"stats"`
	Queue      []store.QueueEntry `json:"queue"`
	Errors     []string           `json:"errors,omitempty"`
}

// PrayerTimes computes the schedule for date, or for today when date is
// empty. It returns schedule.ErrUnavailable for days without usable times.
func (s *StatusService) PrayerTimes(date string, now time.Time) (PrayerTimes, error) {
	day := now
	if date != "" {
		var err error
		if day, err = s.Schedule.ParseDayDate(date); err != nil {
			return PrayerTimes{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
		}
	}
	ds, err := s.Schedule.ComputeDaySchedule(day)
	if err != nil {
		return PrayerTimes{}, err
	}
	return PrayerTimes{Date: ds.DayDate, Times: ds.Clocks(), Timezone: s.Location.String()}, nil
}

// Health reports the process and persisted state. Store failures degrade the
// report instead of failing it.
func (s *StatusService) Health(ctx context.Context, now time.Time) Health {
	h := Health{
		Status:     "healthy",
		Uptime:     now.Sub(s.Started).Seconds(),
		Timestamp:  now.UTC(),
		ServerTime: now.In(s.Location).Format(serverTimeLayout),
		Queue:      []store.QueueEntry{},
	}
	fail := func(what string, err error) {
		h.Status = "degraded"
		h.Errors = append(h.Errors, what+": "+err.Error())
	}

	if pt, err := s.PrayerTimes("", now); err != nil {
		fail("prayer times", err)
	} else {
		h.Today = &pt
	}
	if _, n, err := s.Store.ListTokensPage(ctx, store.Page{Limit: 1}); err != nil {
		fail("tokens", err)
	} else {
		h.Tokens = n
	}
	if st, err := s.Store.HistoryStats(ctx); err != nil {
		fail("history", err)
	} else {
		h.Stats = st
	}
	if q, _, err := s.Store.ListQueue(ctx, store.QueueFilter{DayDate: s.Schedule.DayDate(now)}, store.Page{}); err != nil {
		fail("queue", err)
	} else {
		h.Queue = q
	}
	return h
}
