package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomCapacity(t *testing.T) {
	c, ok := RoomCapacity(1)
	assert.True(t, ok)
	assert.Equal(t, 25, c)

	c, ok = RoomCapacity(2)
	assert.True(t, ok)
	assert.Equal(t, 12, c)

	_, ok = RoomCapacity(3)
	assert.False(t, ok)
}

func TestAvailableSpots(t *testing.T) {
	c := ClassSession{MaxCapacity: 12, CurrentEnrollment: 11}
	assert.Equal(t, 1, c.AvailableSpots())
	assert.True(t, c.HasAvailableSpots())

	c.CurrentEnrollment = 12
	assert.Zero(t, c.AvailableSpots())
	assert.False(t, c.HasAvailableSpots())
}

func TestOccursOn(t *testing.T) {
	c := ClassSession{DayOfWeek: "Tuesday"}
	tue, err := ParseDate("2026-03-10")
	require.NoError(t, err)

	assert.True(t, c.OccursOn(tue))
	assert.False(t, c.OccursOn(tue.AddDate(0, 0, 1)))
}

func TestOccurrenceStart(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	c := ClassSession{StartTime: "18:30"}
	date, _ := ParseDate("2026-03-10")

	start, err := c.OccurrenceStart(date, loc)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 10, 18, 30, 0, 0, loc), start)
	assert.Equal(t, 17, start.UTC().Hour())
}

func TestOccurrenceStartBadClock(t *testing.T) {
	c := ClassSession{StartTime: "25:00"}
	_, err := c.OccurrenceStart(time.Now(), time.UTC)
	assert.Error(t, err)
}

func TestWeekdayRoundTrip(t *testing.T) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		got, ok := ParseWeekday(WeekdayName(wd))
		require.True(t, ok)
		assert.Equal(t, wd, got)
	}
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	late := time.Date(2026, 3, 10, 22, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), DateOf(late, loc))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "CapacityExceeded", KindOf(fmt.Errorf("reserve: %w", ErrCapacityExceeded)))
	assert.Equal(t, "PastClass", KindOf(ErrPastClass))
	assert.Equal(t, "", KindOf(errors.New("connection refused")))
	assert.Equal(t, "", KindOf(nil))
}

func TestReservationStatus(t *testing.T) {
	assert.True(t, StatusConfirmed.HoldsSeat())
	assert.True(t, StatusCompleted.HoldsSeat())
	assert.False(t, StatusCancelled.HoldsSeat())
	assert.False(t, StatusNoShow.HoldsSeat())
	assert.False(t, StatusConfirmed.IsTerminal())

	_, ok := ParseReservationStatus("pending")
	assert.False(t, ok)
}
