package prayertime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mumbai = Coordinates{Lat: 19.0760, Lng: 72.8777}

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func mustMethod(t *testing.T, name string) Method {
	t.Helper()
	m, err := LookupMethod(name)
	require.NoError(t, err)
	return m
}

func TestComputeTimesMumbaiSolstice(t *testing.T) {
	loc := mustZone(t, "Asia/Kolkata")
	day := time.Date(2025, time.June, 21, 0, 0, 0, 0, loc)

	got, err := Calculator{}.ComputeTimes(day, mumbai, loc, mustMethod(t, "MWL"))
	require.NoError(t, err)

	// Published sunrise/sunset for Mumbai on this date are 06:02 / 19:17.
	assert.Equal(t, "06:02", got[Sunrise])
	assert.InDelta(t, clockMinutes(t, "19:18"), clockMinutes(t, got[Sunset]), 2)
	assert.Equal(t, got[Sunset], got[Maghrib])

	assertOrdered(t, got, Imsak, Fajr, Sunrise, Dhuhr, Asr, Maghrib, Isha)
	assert.InDelta(t, clockMinutes(t, "04:39"), clockMinutes(t, got[Fajr]), 2)
	assert.InDelta(t, clockMinutes(t, "12:40"), clockMinutes(t, got[Dhuhr]), 2)
	assert.InDelta(t, clockMinutes(t, "16:03"), clockMinutes(t, got[Asr]), 2)
	assert.InDelta(t, clockMinutes(t, "20:37"), clockMinutes(t, got[Isha]), 2)

	// imsak defaults to 10 minutes before fajr
	assert.InDelta(t, clockMinutes(t, got[Fajr])-10, clockMinutes(t, got[Imsak]), 1)
}

func TestComputeTimesHanafiAsrIsLater(t *testing.T) {
	loc := mustZone(t, "Asia/Kolkata")
	day := time.Date(2025, time.December, 21, 0, 0, 0, 0, loc)
	m := mustMethod(t, "MWL")

	std, err := Calculator{Asr: AsrStandard}.ComputeTimes(day, mumbai, loc, m)
	require.NoError(t, err)
	han, err := Calculator{Asr: AsrHanafi}.ComputeTimes(day, mumbai, loc, m)
	require.NoError(t, err)

	assert.Greater(t, clockMinutes(t, han[Asr]), clockMinutes(t, std[Asr]))
	assert.Equal(t, std[Fajr], han[Fajr])
}

func TestComputeTimesMinuteBasedIsha(t *testing.T) {
	loc := mustZone(t, "Asia/Kolkata")
	day := time.Date(2025, time.March, 1, 0, 0, 0, 0, loc)

	got, err := Calculator{}.ComputeTimes(day, mumbai, loc, mustMethod(t, "makkah"))
	require.NoError(t, err)
	assert.InDelta(t, clockMinutes(t, got[Maghrib])+90, clockMinutes(t, got[Isha]), 1)
}

func TestComputeTimesPolarDayHasNoSunset(t *testing.T) {
	loc := mustZone(t, "Europe/Oslo")
	day := time.Date(2025, time.June, 21, 0, 0, 0, 0, loc)

	got, err := Calculator{}.ComputeTimes(day, Coordinates{Lat: 78.22, Lng: 15.65}, loc, mustMethod(t, "MWL"))
	require.NoError(t, err)
	assert.Equal(t, InvalidTime, got[Sunset])
	assert.Equal(t, InvalidTime, got[Maghrib])
	assert.Equal(t, InvalidTime, got[Isha])
	assert.NotEqual(t, InvalidTime, got[Dhuhr])
}

func TestComputeTimesFollowsDaylightSaving(t *testing.T) {
	loc := mustZone(t, "America/New_York")
	nyc := Coordinates{Lat: 40.7128, Lng: -74.0060}
	m := mustMethod(t, "ISNA")

	before, err := Calculator{}.ComputeTimes(time.Date(2025, time.March, 8, 0, 0, 0, 0, loc), nyc, loc, m)
	require.NoError(t, err)
	after, err := Calculator{}.ComputeTimes(time.Date(2025, time.March, 10, 0, 0, 0, 0, loc), nyc, loc, m)
	require.NoError(t, err)

	// solar noon barely moves; the wall clock jumps by the DST hour
	assert.InDelta(t, 60, clockMinutes(t, after[Dhuhr])-clockMinutes(t, before[Dhuhr]), 2)
}

func TestComputeTimesNilZone(t *testing.T) {
	_, err := Calculator{}.ComputeTimes(time.Now(), mumbai, nil, mustMethod(t, "MWL"))
	assert.ErrorIs(t, err, ErrNoLocation)
}

func TestLookupMethod(t *testing.T) {
	m, err := LookupMethod("mwl")
	require.NoError(t, err)
	assert.Equal(t, "MWL", m.Name)
	assert.True(t, m.Imsak.minutes)
	assert.True(t, m.Maghrib.minutes)

	_, err = LookupMethod("nope")
	assert.Error(t, err)
}

func TestParseSettings(t *testing.T) {
	a, err := ParseAsrJuristic("Hanafi")
	require.NoError(t, err)
	assert.Equal(t, AsrHanafi, a)
	_, err = ParseAsrJuristic("maliki")
	assert.Error(t, err)

	r, err := ParseHighLatRule("")
	require.NoError(t, err)
	assert.Equal(t, HighLatNightMiddle, r)
	_, err = ParseHighLatRule("x")
	assert.Error(t, err)
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "05:12", formatClock(5.2))
	assert.Equal(t, "00:00", formatClock(23.999))
	assert.Equal(t, InvalidTime, formatClock(nan()))
}

func assertOrdered(t *testing.T, got map[string]string, names ...string) {
	t.Helper()
	for i := 1; i < len(names); i++ {
		assert.Less(t, clockMinutes(t, got[names[i-1]]), clockMinutes(t, got[names[i]]),
			"%s (%s) should precede %s (%s)", names[i-1], got[names[i-1]], names[i], got[names[i]])
	}
}

func clockMinutes(t *testing.T, clock string) float64 {
	t.Helper()
	ts, err := time.Parse("15:04", clock)
	require.NoError(t, err, clock)
	return float64(ts.Hour()*60 + ts.Minute())
}

func nan() float64 {
	var zero float64
	return zero / zero
}
