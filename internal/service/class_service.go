package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/model"
)

// ClassService applies the catalogue rules on top of the class store.
// Capacity is never taken from the client: it follows from the room.
type ClassService struct {
	classes ClassCatalog
	purger  CachePurger
	log     *zap.Logger
	loc     *time.Location
	now     func() time.Time
}

// NewClassService wires a ClassService.  purger may be nil.
func NewClassService(classes ClassCatalog, purger CachePurger, loc *time.Location, log *zap.Logger) *ClassService {
	if loc == nil {
		loc = time.UTC
	}
	return &ClassService{classes: classes, purger: purger, log: log.Named("classes"), loc: loc, now: time.Now}
}

// prepare validates the schedule fields and derives MaxCapacity and
// DurationMinutes.
func prepare(c *model.ClassSession) error {
	capacity, ok := model.RoomCapacity(c.Room)
	if !ok {
		return model.ErrInvalidRoom
	}
	wd, ok := model.ParseWeekday(c.DayOfWeek)
	if !ok {
		return model.ErrInvalidSchedule
	}
	c.DayOfWeek = model.WeekdayName(wd)
	start, err := c.OccurrenceStart(time.Time{}, time.UTC)
	if err != nil {
		return model.ErrInvalidSchedule
	}
	end := model.ClassSession{StartTime: c.EndTime}
	finish, err := end.OccurrenceStart(time.Time{}, time.UTC)
	if err != nil || !finish.After(start) {
		return model.ErrInvalidSchedule
	}
	c.MaxCapacity = capacity
	c.DurationMinutes = int(finish.Sub(start) / time.Minute)
	return nil
}

// Create adds a class to the catalogue.
func (s *ClassService) Create(ctx context.Context, c *model.ClassSession) error {
	if err := prepare(c); err != nil {
		return err
	}
	c.CurrentEnrollment = 0
	if err := s.classes.Create(ctx, c); err != nil {
		return err
	}
	s.purge(ctx)
	return nil
}

// Get returns one class.
func (s *ClassService) Get(ctx context.Context, id uint64) (*model.ClassSession, error) {
	return s.classes.GetByID(ctx, id)
}

// List returns classes matching f.
func (s *ClassService) List(ctx context.Context, f model.ClassFilter) ([]model.ClassSession, error) {
	return s.classes.List(ctx, f)
}

// Update replaces the editable attributes of a class.  A room change
// recomputes the capacity and is refused when it would drop below the
// seats already taken.  Moving the class to another day or start time is
// refused while confirmed bookings exist for upcoming occurrences, since
// those would no longer fall on the class schedule.
func (s *ClassService) Update(ctx context.Context, c *model.ClassSession) (*model.ClassSession, error) {
	cur, err := s.classes.GetByID(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if err := prepare(c); err != nil {
		return nil, err
	}
	if c.MaxCapacity < cur.CurrentEnrollment {
		return nil, model.ErrCapacityBelowEnrollment
	}
	if c.DayOfWeek != cur.DayOfWeek || c.StartTime != cur.StartTime {
		busy, err := s.classes.HasUpcomingBookings(ctx, c.ID, model.DateOf(s.now(), s.loc))
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, model.ErrHasActiveBookings
		}
	}
	if err := s.classes.Update(ctx, c); err != nil {
		return nil, err
	}
	s.purge(ctx)
	return s.classes.GetByID(ctx, c.ID)
}

// Delete removes a class, or deactivates it when past bookings reference
// it.  Classes with upcoming confirmed bookings are kept.  The returned
// flag reports whether the row was removed.
func (s *ClassService) Delete(ctx context.Context, id uint64) (bool, error) {
	deleted, err := s.classes.Delete(ctx, id, model.DateOf(s.now(), s.loc))
	if err != nil {
		return false, err
	}
	s.purge(ctx)
	return deleted, nil
}

func (s *ClassService) purge(ctx context.Context) {
	if s.purger == nil {
		return
	}
	if err := s.purger.Purge(context.WithoutCancel(ctx), scheduleRoute); err != nil {
		s.log.Warn("schedule cache purge failed", zap.Error(err))
	}
}
