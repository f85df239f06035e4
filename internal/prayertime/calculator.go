// Package prayertime computes daily prayer times from solar position using the
// PrayTimes formulation (Julian date, solar declination and equation of time).
package prayertime

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// InvalidTime is returned for an event the sun never reaches on that date.
const InvalidTime = "-----"

// Event names produced by ComputeTimes. Only fajr, dhuhr, asr, maghrib and
// isha are prayers; the rest are reference points.
const (
	Imsak    = "imsak"
	Fajr     = "fajr"
	Sunrise  = "sunrise"
	Dhuhr    = "dhuhr"
	Asr      = "asr"
	Sunset   = "sunset"
	Maghrib  = "maghrib"
	Isha     = "isha"
	Midnight = "midnight"
)

var ErrNoLocation = errors.New("prayertime: nil time zone")

// Coordinates of the observer. Elevation is in metres.
type Coordinates struct {
	Lat       float64
	Lng       float64
	Elevation float64
}

// Calculator holds the juristic settings that do not vary per day.
type Calculator struct {
	Asr     AsrJuristic
	HighLat HighLatRule
}

// ComputeTimes returns "HH:MM" (24h) clock strings for every event on the
// calendar date of day in tz. Unreachable events are reported as InvalidTime.
func (c Calculator) ComputeTimes(day time.Time, coords Coordinates, tz *time.Location, m Method) (map[string]string, error) {
	if tz == nil {
		return nil, ErrNoLocation
	}
	y, mo, d := day.In(tz).Date()
	_, offset := time.Date(y, mo, d, 12, 0, 0, 0, tz).Zone()

	s := solver{
		calc:     c,
		method:   m,
		coords:   coords,
		timeZone: float64(offset) / 3600,
		jDate:    julian(y, int(mo), d) - coords.Lng/(15*24),
	}
	if s.calc.Asr == 0 {
		s.calc.Asr = AsrStandard
	}
	if s.calc.HighLat == "" {
		s.calc.HighLat = HighLatNightMiddle
	}

	times := s.compute()
	out := make(map[string]string, len(times))
	for name, t := range times {
		out[name] = formatClock(t)
	}
	return out, nil
}

type solver struct {
	calc     Calculator
	method   Method
	coords   Coordinates
	timeZone float64
	jDate    float64
}

func (s solver) compute() map[string]float64 {
	// initial guesses in hours
	t := map[string]float64{
		Imsak: 5, Fajr: 5, Sunrise: 6, Dhuhr: 12,
		Asr: 13, Sunset: 18, Maghrib: 18, Isha: 18,
	}
	for k, v := range t {
		t[k] = v / 24
	}

	riseSet := s.riseSetAngle()
	out := map[string]float64{
		Imsak:   s.sunAngleTime(s.method.Imsak.value, t[Imsak], true),
		Fajr:    s.sunAngleTime(s.method.Fajr.value, t[Fajr], true),
		Sunrise: s.sunAngleTime(riseSet, t[Sunrise], true),
		Dhuhr:   s.midDay(t[Dhuhr]),
		Asr:     s.asrTime(float64(s.calc.Asr), t[Asr]),
		Sunset:  s.sunAngleTime(riseSet, t[Sunset], false),
		Maghrib: s.sunAngleTime(s.method.Maghrib.value, t[Maghrib], false),
		Isha:    s.sunAngleTime(s.method.Isha.value, t[Isha], false),
	}
	s.adjust(out)
	out[Midnight] = out[Sunset] + timeDiff(out[Sunset], out[Sunrise])/2
	return out
}

func (s solver) adjust(t map[string]float64) {
	for k := range t {
		t[k] += s.timeZone - s.coords.Lng/15
	}
	if s.calc.HighLat != HighLatNone {
		night := timeDiff(t[Sunset], t[Sunrise])
		t[Imsak] = s.adjustHighLat(t[Imsak], t[Sunrise], s.method.Imsak.value, night, true)
		t[Fajr] = s.adjustHighLat(t[Fajr], t[Sunrise], s.method.Fajr.value, night, true)
		t[Isha] = s.adjustHighLat(t[Isha], t[Sunset], s.method.Isha.value, night, false)
		t[Maghrib] = s.adjustHighLat(t[Maghrib], t[Sunset], s.method.Maghrib.value, night, false)
	}
	if s.method.Imsak.minutes {
		t[Imsak] = t[Fajr] - s.method.Imsak.value/60
	}
	if s.method.Maghrib.minutes {
		t[Maghrib] = t[Sunset] + s.method.Maghrib.value/60
	}
	if s.method.Isha.minutes {
		t[Isha] = t[Maghrib] + s.method.Isha.value/60
	}
}

func (s solver) adjustHighLat(t, base, angle, night float64, ccw bool) float64 {
	portion := s.nightPortion(angle, night)
	diff := timeDiff(base, t)
	if ccw {
		diff = timeDiff(t, base)
	}
	if math.IsNaN(t) || diff > portion {
		if ccw {
			return base - portion
		}
		return base + portion
	}
	return t
}

func (s solver) nightPortion(angle, night float64) float64 {
	portion := 0.5
	switch s.calc.HighLat {
	case HighLatAngleBased:
		portion = angle / 60
	case HighLatOneSeventh:
		portion = 1.0 / 7
	}
	return portion * night
}

func (s solver) riseSetAngle() float64 {
	return 0.833 + 0.0347*math.Sqrt(s.coords.Elevation)
}

func (s solver) midDay(t float64) float64 {
	_, eqt := sunPosition(s.jDate + t)
	return fixHour(12 - eqt)
}

// sunAngleTime returns the time at which the sun is angle degrees below the
// horizon, before noon when ccw is set.
func (s solver) sunAngleTime(angle, t float64, ccw bool) float64 {
	decl, _ := sunPosition(s.jDate + t)
	noon := s.midDay(t)
	lat := s.coords.Lat
	v := 1.0 / 15 * arccos((-sin(angle)-sin(decl)*sin(lat))/(cos(decl)*cos(lat)))
	if ccw {
		return noon - v
	}
	return noon + v
}

func (s solver) asrTime(factor, t float64) float64 {
	decl, _ := sunPosition(s.jDate + t)
	a := -arccot(factor + tan(math.Abs(s.coords.Lat-decl)))
	return s.sunAngleTime(a, t, false)
}

// sunPosition returns declination and equation of time for a Julian date.
func sunPosition(jd float64) (decl, eqt float64) {
	d := jd - 2451545.0
	g := fixAngle(357.529 + 0.98560028*d)
	q := fixAngle(280.459 + 0.98564736*d)
	l := fixAngle(q + 1.915*sin(g) + 0.020*sin(2*g))
	e := 23.439 - 0.00000036*d

	ra := arctan2(cos(e)*sin(l), cos(l)) / 15
	eqt = q/15 - fixHour(ra)
	decl = arcsin(sin(e) * sin(l))
	return decl, eqt
}

func julian(year, month, day int) float64 {
	if month <= 2 {
		year--
		month += 12
	}
	a := math.Floor(float64(year) / 100)
	b := 2 - a + math.Floor(a/4)
	return math.Floor(365.25*float64(year+4716)) + math.Floor(30.6001*float64(month+1)) + float64(day) + b - 1524.5
}

func formatClock(t float64) string {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return InvalidTime
	}
	t = fixHour(t + 0.5/60) // round to the nearest minute
	h := math.Floor(t)
	m := math.Floor((t - h) * 60)
	return fmt.Sprintf("%02d:%02d", int(h), int(m))
}

func timeDiff(t1, t2 float64) float64 { return fixHour(t2 - t1) }

func dtr(d float64) float64 { return d * math.Pi / 180 }
func rtd(r float64) float64 { return r * 180 / math.Pi }

func sin(d float64) float64 { return math.Sin(dtr(d)) }
func cos(d float64) float64 { return math.Cos(dtr(d)) }
func tan(d float64) float64 { return math.Tan(dtr(d)) }

func arcsin(x float64) float64    { return rtd(math.Asin(x)) }
func arccos(x float64) float64    { return rtd(math.Acos(x)) }
func arctan2(y, x float64) float64 { return rtd(math.Atan2(y, x)) }
func arccot(x float64) float64    { return rtd(math.Atan(1 / x)) }

func fixAngle(a float64) float64 { return fix(a, 360) }
func fixHour(a float64) float64  { return fix(a, 24) }

func fix(a, b float64) float64 {
	a -= b * math.Floor(a/b)
	if a < 0 {
		a += b
	}
	return a
}
