package model

import (
	"fmt"
	"strings"
	"time"
)

// DateFormat is the wire and storage layout of an occurrence date.
const DateFormat = "2006-01-02"

// Rooms of the studio.  Capacity is fixed by the room a class is held in.
var roomCapacity = map[uint8]int{
	1: 25,
	2: 12,
}

// RoomCapacity returns the seat count of a room and whether the room exists.
func RoomCapacity(room uint8) (int, bool) {
	c, ok := roomCapacity[room]
	return c, ok
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday converts a lower case English day name to time.Weekday.
func ParseWeekday(day string) (time.Weekday, bool) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(day))]
	return wd, ok
}

// WeekdayName is the inverse of ParseWeekday.
func WeekdayName(wd time.Weekday) string {
	return strings.ToLower(wd.String())
}

// ParseDate parses a YYYY-MM-DD occurrence date.  The result is midnight UTC
// so that it round-trips through a DATE column unchanged.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateFormat, strings.TrimSpace(s), time.UTC)
}

// DateOf truncates t to its calendar date in loc, expressed as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ClassSession is a recurring weekly class held in one room at a fixed
// time.  CurrentEnrollment is only ever changed through the capacity
// ledger (ReserveSeat/ReleaseSeat) and always satisfies
// 0 <= CurrentEnrollment <= MaxCapacity.
type ClassSession struct {
	ID                uint64    // classes.id
	Name              string    // classes.name
	Discipline        string    // classes.discipline
	AgeGroup          string    // classes.age_group
	Level             string    // classes.level
	Teacher           string    // classes.teacher
	DayOfWeek         string    // classes.day_of_week (monday..sunday)
	StartTime         string    // classes.start_time (HH:MM)
	EndTime           string    // classes.end_time (HH:MM)
	DurationMinutes   int       // classes.duration_minutes
	Room              uint8     // classes.room
	MaxCapacity       int       // classes.max_capacity, derived from Room
	CurrentEnrollment int       // classes.current_enrollment
	PriceCents        uint32    // classes.price_cents
	Description       *string   // classes.description (nullable)
	IsActive          bool      // classes.is_active
	CreatedAt         time.Time // classes.created_at
	UpdatedAt         time.Time // classes.updated_at
}

// AvailableSpots is the number of seats still free.
func (c *ClassSession) AvailableSpots() int {
	if c.CurrentEnrollment >= c.MaxCapacity {
		return 0
	}
	return c.MaxCapacity - c.CurrentEnrollment
}

// HasAvailableSpots reports whether at least one seat is free.
func (c *ClassSession) HasAvailableSpots() bool {
	return c.AvailableSpots() > 0
}

// OccursOn reports whether the calendar date falls on the class's weekday.
func (c *ClassSession) OccursOn(date time.Time) bool {
	wd, ok := ParseWeekday(c.DayOfWeek)
	return ok && date.Weekday() == wd
}

// OccurrenceStart returns the instant the occurrence on date begins in the
// studio's time zone.
func (c *ClassSession) OccurrenceStart(date time.Time, loc *time.Location) (time.Time, error) {
	hh, mm, err := parseClock(c.StartTime)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, hh, mm, 0, 0, loc), nil
}

// ParseClock validates an HH:MM value.
func ParseClock(s string) error {
	_, _, err := parseClock(s)
	return err
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// ClassFilter narrows class listings.  Nil fields are ignored.
type ClassFilter struct {
	Discipline *string
	DayOfWeek  *string
	Level      *string
	IsActive   *bool
}
