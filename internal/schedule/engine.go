// Package schedule turns raw prayer-time clocks into per-day schedules of
// absolute instants in the configured time zone.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"azaan/internal/domain"
	"azaan/internal/prayertime"
)

// ErrUnavailable means no usable schedule exists for the day (for example
// polar day or night). Callers skip the day and retry on the next tick.
var ErrUnavailable = errors.New("prayer schedule unavailable")

// Calculator is the astronomical black box behind the engine.
type Calculator interface {
	ComputeTimes(day time.Time, coords prayertime.Coordinates, tz *time.Location, m prayertime.Method) (map[string]string, error)
}

type PrayerTime struct {
	Prayer domain.Prayer
	Clock  string // "HH:MM" local wall clock
	At     time.Time
}

type DaySchedule struct {
	DayDate string
	Times   []PrayerTime
}

// Clocks returns the prayer -> "HH:MM" view of the schedule.
func (d DaySchedule) Clocks() map[string]string {
	out := make(map[string]string, len(d.Times))
	for _, pt := range d.Times {
		out[string(pt.Prayer)] = pt.Clock
	}
	return out
}

type Engine struct {
	Calc     Calculator
	Coords   prayertime.Coordinates
	Method   prayertime.Method
	Location *time.Location
}

// DayDate formats the calendar day of t in the engine's zone.
func (e *Engine) DayDate(t time.Time) string {
	return t.In(e.Location).Format(domain.DayDateLayout)
}

// StartOfDay returns local midnight of the calendar day containing t.
func (e *Engine) StartOfDay(t time.Time) time.Time {
	y, m, d := t.In(e.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.Location)
}

// NextDay returns local midnight of the following calendar day. Adding 24h
// would be wrong on days with an offset change.
func (e *Engine) NextDay(t time.Time) time.Time {
	y, m, d := t.In(e.Location).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, e.Location)
}

// ParseDayDate parses "YYYY-MM-DD" as local midnight in the engine's zone.
func (e *Engine) ParseDayDate(s string) (time.Time, error) {
	return time.ParseInLocation(domain.DayDateLayout, s, e.Location)
}

// ComputeDaySchedule computes the five prayers for the calendar day of day.
func (e *Engine) ComputeDaySchedule(day time.Time) (DaySchedule, error) {
	start := e.StartOfDay(day)
	dayDate := start.Format(domain.DayDateLayout)

	raw, err := e.Calc.ComputeTimes(start, e.Coords, e.Location, e.Method)
	if err != nil {
		return DaySchedule{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, dayDate, err)
	}

	out := DaySchedule{DayDate: dayDate, Times: make([]PrayerTime, 0, len(domain.Prayers))}
	var prev time.Time
	for _, p := range domain.Prayers {
		clock, ok := raw[string(p)]
		if !ok || clock == prayertime.InvalidTime {
			return DaySchedule{}, fmt.Errorf("%w: %s: no time for %s", ErrUnavailable, dayDate, p)
		}
		at, err := e.instant(start, clock)
		if err != nil {
			return DaySchedule{}, fmt.Errorf("%w: %s: %s: %v", ErrUnavailable, dayDate, p, err)
		}
		// A clock earlier than its predecessor has crossed midnight.
		if !prev.IsZero() && at.Before(prev) {
			next := e.NextDay(start)
			at, _ = e.instant(next, clock)
		}
		prev = at
		out.Times = append(out.Times, PrayerTime{Prayer: p, Clock: clock, At: at})
	}
	return out, nil
}

func (e *Engine) instant(day time.Time, clock string) (time.Time, error) {
	hm, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, hm.Hour(), hm.Minute(), 0, 0, e.Location), nil
}
