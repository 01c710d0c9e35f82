package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/queue"
)

// Routes whose cached responses show available spots.
const scheduleRoute = "/v1/classes"

// Default cancellation reasons recorded when the caller gives none.
const (
	ReasonCancelledByUser  = "cancelled by user"
	ReasonCancelledByAdmin = "cancelled by administrator"
)

// BookingService creates, cancels and closes reservations.  A booking
// touches two independently stored counters (the class's enrollment and
// optionally a package balance) without a cross-entity transaction, so
// every step that follows a successful counter change undoes that change
// when it fails.
type BookingService struct {
	classes      ClassStore
	balances     BalanceStore
	reservations ReservationStore

	events   EventPublisher
	outcomes OutcomeRecorder
	purger   CachePurger

	log *zap.Logger
	loc *time.Location
	now func() time.Time
}

// BookingOption customises a BookingService.
type BookingOption func(*BookingService)

// WithEvents publishes booking.confirmed and booking.cancelled events.
func WithEvents(p EventPublisher) BookingOption {
	return func(s *BookingService) { s.events = p }
}

// WithOutcomes counts every operation by outcome.
func WithOutcomes(r OutcomeRecorder) BookingOption {
	return func(s *BookingService) { s.outcomes = r }
}

// WithCachePurger drops cached schedule responses after enrollment changes.
func WithCachePurger(p CachePurger) BookingOption {
	return func(s *BookingService) { s.purger = p }
}

// WithLocation sets the studio time zone class start times are read in.
func WithLocation(loc *time.Location) BookingOption {
	return func(s *BookingService) { s.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BookingOption {
	return func(s *BookingService) { s.now = now }
}

// NewBookingService wires a BookingService.
func NewBookingService(classes ClassStore, balances BalanceStore, reservations ReservationStore, log *zap.Logger, opts ...BookingOption) *BookingService {
	s := &BookingService{
		classes:      classes,
		balances:     balances,
		reservations: reservations,
		log:          log.Named("booking"),
		loc:          time.UTC,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateReservationInput describes a booking request.  Date is the
// calendar date of the occurrence; BalanceID selects the package balance
// paying for it, if any.
type CreateReservationInput struct {
	UserID    uint64
	ClassID   uint64
	Date      time.Time
	BalanceID *uint64
	Notes     *string
}

// Create books one seat of an occurrence for a user.
//
// The class must exist, be active and occur on Date in the future.  The
// duplicate pre-check only saves work: the reservations unique key is what
// guarantees one seat-holding reservation per (user, class, date).  The
// seat is reserved first; if the balance cannot be charged the seat is
// released, and if the insert fails the balance is refunded and the seat
// released, in that order.
func (s *BookingService) Create(ctx context.Context, in CreateReservationInput) (res *model.Reservation, err error) {
	defer func() { s.observe("create", err) }()

	now := s.now()
	date := model.DateOf(in.Date, time.UTC)

	class, err := s.classes.GetByID(ctx, in.ClassID)
	if err != nil {
		return nil, err
	}
	if !class.IsActive {
		return nil, model.ErrClassInactive
	}
	if !class.OccursOn(date) {
		return nil, model.ErrInvalidDate
	}
	start, err := class.OccurrenceStart(date, s.loc)
	if err != nil {
		return nil, fmt.Errorf("class %d start time: %w", class.ID, err)
	}
	if !now.Before(start) {
		return nil, model.ErrPastClass
	}

	dup, err := s.reservations.HasActive(ctx, in.UserID, in.ClassID, date)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, model.ErrDuplicateBooking
	}

	if in.BalanceID != nil {
		b, err := s.balances.GetByID(ctx, *in.BalanceID, now)
		if err != nil {
			return nil, err
		}
		if b.UserID != in.UserID {
			return nil, model.ErrForbidden
		}
	}

	if err := s.classes.ReserveSeat(ctx, in.ClassID); err != nil {
		return nil, err
	}

	if in.BalanceID != nil {
		if _, err := s.balances.ConsumeOne(ctx, *in.BalanceID, now); err != nil {
			s.releaseSeat(ctx, in.ClassID, "balance charge failed")
			return nil, err
		}
	}

	res = &model.Reservation{
		UserID:    in.UserID,
		ClassID:   in.ClassID,
		Date:      date,
		Status:    model.StatusConfirmed,
		BalanceID: in.BalanceID,
		Notes:     in.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.reservations.Create(ctx, res); err != nil {
		if in.BalanceID != nil {
			s.refundBalance(ctx, *in.BalanceID, now, "reservation insert failed")
		}
		s.releaseSeat(ctx, in.ClassID, "reservation insert failed")
		return nil, err
	}

	s.purgeSchedule(ctx)
	s.publishConfirmed(ctx, res, class, now)
	return res, nil
}

// CancelInput describes a cancellation request.
type CancelInput struct {
	ReservationID uint64
	ActorID       uint64
	ActorIsAdmin  bool
	Reason        *string
}

// Cancel moves a confirmed reservation to cancelled while its occurrence
// is still in the future, then releases the seat and refunds the balance
// class it consumed.  Only the owner or an administrator may cancel.  The
// status change is conditional so concurrent cancels release the seat
// exactly once.
func (s *BookingService) Cancel(ctx context.Context, in CancelInput) (res *model.Reservation, err error) {
	defer func() { s.observe("cancel", err) }()

	now := s.now()
	res, err = s.reservations.GetByID(ctx, in.ReservationID)
	if err != nil {
		return nil, err
	}
	if res.UserID != in.ActorID && !in.ActorIsAdmin {
		return nil, model.ErrForbidden
	}
	if res.Status != model.StatusConfirmed {
		return nil, model.ErrInvalidState
	}
	class, err := s.classes.GetByID(ctx, res.ClassID)
	if err != nil {
		return nil, err
	}
	start, err := class.OccurrenceStart(res.Date, s.loc)
	if err != nil {
		return nil, fmt.Errorf("class %d start time: %w", class.ID, err)
	}
	if !now.Before(start) {
		return nil, model.ErrPastClass
	}

	reason := ReasonCancelledByUser
	if in.ActorIsAdmin && res.UserID != in.ActorID {
		reason = ReasonCancelledByAdmin
	}
	if in.Reason != nil && *in.Reason != "" {
		reason = *in.Reason
	}
	t := model.ReservationTransition{
		ID:           res.ID,
		From:         model.StatusConfirmed,
		To:           model.StatusCancelled,
		CancelledAt:  &now,
		CancelReason: &reason,
	}
	if err := s.reservations.Transition(ctx, t); err != nil {
		return nil, err
	}
	t.Apply(res)
	res.UpdatedAt = now

	s.releaseSeat(ctx, res.ClassID, "reservation cancelled")
	if res.BalanceID != nil {
		s.refundBalance(ctx, *res.BalanceID, now, "reservation cancelled")
	}

	s.purgeSchedule(ctx)
	s.publishCancelled(ctx, res, class, in.ActorIsAdmin, reason, now)
	return res, nil
}

// MarkAttendance closes a confirmed reservation as completed (attended)
// or no-show.  The seat stays consumed.
func (s *BookingService) MarkAttendance(ctx context.Context, reservationID uint64, attended bool) (res *model.Reservation, err error) {
	defer func() { s.observe("attendance", err) }()

	res, err = s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.Status != model.StatusConfirmed {
		return nil, model.ErrInvalidState
	}
	to := model.StatusNoShow
	if attended {
		to = model.StatusCompleted
	}
	t := model.ReservationTransition{ID: res.ID, From: model.StatusConfirmed, To: to, Attended: &attended}
	if err := s.reservations.Transition(ctx, t); err != nil {
		return nil, err
	}
	t.Apply(res)
	res.UpdatedAt = s.now()
	return res, nil
}

// releaseSeat and refundBalance run compensations and post-cancel
// bookkeeping.  They must complete even if the client has gone away, so
// they detach from the request's cancellation.  A failure leaves the
// counter too high (never too low) and is logged for reconciliation.
func (s *BookingService) releaseSeat(ctx context.Context, classID uint64, why string) {
	if err := s.classes.ReleaseSeat(context.WithoutCancel(ctx), classID); err != nil {
		s.log.Error("release seat failed; enrollment needs reconciliation",
			zap.Uint64("class_id", classID), zap.String("cause", why), zap.Error(err))
	}
}

func (s *BookingService) refundBalance(ctx context.Context, balanceID uint64, now time.Time, why string) {
	if _, err := s.balances.RefundOne(context.WithoutCancel(ctx), balanceID, now); err != nil {
		s.log.Error("refund balance failed; balance needs reconciliation",
			zap.Uint64("balance_id", balanceID), zap.String("cause", why), zap.Error(err))
	}
}

func (s *BookingService) purgeSchedule(ctx context.Context) {
	if s.purger == nil {
		return
	}
	if err := s.purger.Purge(context.WithoutCancel(ctx), scheduleRoute); err != nil {
		s.log.Warn("schedule cache purge failed", zap.Error(err))
	}
}

func (s *BookingService) publishConfirmed(ctx context.Context, res *model.Reservation, class *model.ClassSession, now time.Time) {
	if s.events == nil {
		return
	}
	ev := queue.BookingConfirmedEvent{
		ReservationID: res.ID,
		UserID:        res.UserID,
		ClassID:       class.ID,
		ClassName:     class.Name,
		Discipline:    class.Discipline,
		Teacher:       class.Teacher,
		Room:          class.Room,
		Date:          res.Date.Format(model.DateFormat),
		StartTime:     class.StartTime,
		BalanceID:     res.BalanceID,
		Enrollment:    class.CurrentEnrollment + 1,
		MaxCapacity:   class.MaxCapacity,
		ConfirmedAt:   now.UTC().Format(time.RFC3339),
	}
	if err := s.events.PublishConfirmed(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("publish booking.confirmed failed", zap.Uint64("reservation_id", res.ID), zap.Error(err))
	}
}

func (s *BookingService) publishCancelled(ctx context.Context, res *model.Reservation, class *model.ClassSession, byAdmin bool, reason string, now time.Time) {
	if s.events == nil {
		return
	}
	ev := queue.BookingCancelledEvent{
		ReservationID: res.ID,
		UserID:        res.UserID,
		ClassID:       class.ID,
		ClassName:     class.Name,
		Date:          res.Date.Format(model.DateFormat),
		ByAdmin:       byAdmin,
		Reason:        reason,
		RefundedTo:    res.BalanceID,
		CancelledAt:   now.UTC().Format(time.RFC3339),
	}
	if err := s.events.PublishCancelled(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("publish booking.cancelled failed", zap.Uint64("reservation_id", res.ID), zap.Error(err))
	}
}

func (s *BookingService) observe(op string, err error) {
	if s.outcomes == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = model.KindOf(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	s.outcomes.ObserveBooking(op, outcome)
}

