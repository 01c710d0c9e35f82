package service

import (
	"context"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

// weekOrder lists the schedule days starting on Monday.
var weekOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

// QueryService serves the read-only views of classes and bookings.
type QueryService struct {
	classes      ClassLister
	reservations ReservationReader
	loc          *time.Location
	now          func() time.Time
}

// NewQueryService wires a QueryService.  loc is the studio time zone used
// to decide what "today" is.
func NewQueryService(classes ClassLister, reservations ReservationReader, loc *time.Location) *QueryService {
	if loc == nil {
		loc = time.UTC
	}
	return &QueryService{classes: classes, reservations: reservations, loc: loc, now: time.Now}
}

// Today returns the current studio date as midnight UTC.
func (s *QueryService) Today() time.Time { return model.DateOf(s.now(), s.loc) }

// ScheduleDay is one weekday of the weekly schedule.
type ScheduleDay struct {
	Day     string
	Classes []model.ClassSession
}

// WeeklySchedule returns the active classes grouped by weekday, Monday
// first.  Days without classes are included with an empty list.
func (s *QueryService) WeeklySchedule(ctx context.Context, f model.ClassFilter) ([]ScheduleDay, error) {
	active := true
	f.IsActive = &active
	classes, err := s.classes.List(ctx, f)
	if err != nil {
		return nil, err
	}
	byDay := make(map[string][]model.ClassSession, len(weekOrder))
	for _, c := range classes {
		byDay[c.DayOfWeek] = append(byDay[c.DayOfWeek], c)
	}
	out := make([]ScheduleDay, 0, len(weekOrder))
	for _, wd := range weekOrder {
		name := model.WeekdayName(wd)
		day := ScheduleDay{Day: name, Classes: byDay[name]}
		if day.Classes == nil {
			day.Classes = []model.ClassSession{}
		}
		out = append(out, day)
	}
	return out, nil
}

// MyBookingsQuery narrows a student's own booking list.
type MyBookingsQuery struct {
	Status   *model.ReservationStatus
	Upcoming bool
}

// MyBookings lists the user's reservations.  Upcoming restricts the list
// to confirmed reservations dated today or later and overrides Status.
func (s *QueryService) MyBookings(ctx context.Context, userID uint64, q MyBookingsQuery) ([]model.ReservationDetail, error) {
	f := model.ReservationFilter{UserID: &userID, Status: q.Status}
	if q.Upcoming {
		confirmed := model.StatusConfirmed
		today := s.Today()
		f.Status = &confirmed
		f.FromDate = &today
	}
	return s.reservations.List(ctx, f)
}

// GetBooking returns one reservation to its owner or to an administrator.
func (s *QueryService) GetBooking(ctx context.Context, id, actorID uint64, actorIsAdmin bool) (*model.ReservationDetail, error) {
	d, err := s.reservations.Detail(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.UserID != actorID && !actorIsAdmin {
		return nil, model.ErrForbidden
	}
	return d, nil
}

// AdminBookings lists reservations across all users.
func (s *QueryService) AdminBookings(ctx context.Context, f model.ReservationFilter) ([]model.ReservationDetail, error) {
	return s.reservations.List(ctx, f)
}

// Stats summarises reservations as of the current studio date.
func (s *QueryService) Stats(ctx context.Context) (model.BookingStats, error) {
	return s.reservations.Stats(ctx, s.Today())
}
