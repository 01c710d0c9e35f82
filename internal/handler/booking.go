package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/service"
)

// BookingCommands changes reservations.  *service.BookingService
// implements it.
type BookingCommands interface {
	Create(ctx context.Context, in service.CreateReservationInput) (*model.Reservation, error)
	Cancel(ctx context.Context, in service.CancelInput) (*model.Reservation, error)
	MarkAttendance(ctx context.Context, reservationID uint64, attended bool) (*model.Reservation, error)
}

// BookingQueries reads reservations.  *service.QueryService implements it.
type BookingQueries interface {
	MyBookings(ctx context.Context, userID uint64, q service.MyBookingsQuery) ([]model.ReservationDetail, error)
	GetBooking(ctx context.Context, id, actorID uint64, actorIsAdmin bool) (*model.ReservationDetail, error)
	AdminBookings(ctx context.Context, f model.ReservationFilter) ([]model.ReservationDetail, error)
	Stats(ctx context.Context) (model.BookingStats, error)
}

// ActiveBalanceFinder resolves the balance a booking draws from when the
// client asks to pay with its package without naming one.
type ActiveBalanceFinder interface {
	ActiveBalance(ctx context.Context, userID uint64) (*model.PackageBalance, error)
}

// BookingHandler exposes the booking lifecycle.
type BookingHandler struct {
	Commands BookingCommands
	Queries  BookingQueries
	Balances ActiveBalanceFinder
	Log      *zap.Logger
}

func NewBookingHandler(cmd BookingCommands, q BookingQueries, balances ActiveBalanceFinder, log *zap.Logger) *BookingHandler {
	return &BookingHandler{Commands: cmd, Queries: q, Balances: balances, Log: log.Named("bookings")}
}

type createBookingReq struct {
	ClassID    uint64  `json:"class_id" validate:"required"`
	Date       string  `json:"date" validate:"required,isodate"`
	BalanceID  *uint64 `json:"balance_id" validate:"omitempty,min=1"`
	UsePackage bool    `json:"use_package"`
	Notes      *string `json:"notes" validate:"omitempty,max=500"`
}

type cancelBookingReq struct {
	Reason *string `json:"reason" validate:"omitempty,max=255"`
}

type attendanceReq struct {
	Attended *bool `json:"attended" validate:"required"`
}

type reservationResp struct {
	ID           uint64     `json:"id"`
	UserID       uint64     `json:"user_id"`
	ClassID      uint64     `json:"class_id"`
	Date         string     `json:"date"`
	Status       string     `json:"status"`
	Attended     bool       `json:"attended"`
	BalanceID    *uint64    `json:"balance_id,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason *string    `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toReservationResp(r *model.Reservation) reservationResp {
	return reservationResp{
		ID: r.ID, UserID: r.UserID, ClassID: r.ClassID, Date: r.Date.Format(model.DateFormat),
		Status: string(r.Status), Attended: r.Attended, BalanceID: r.BalanceID, Notes: r.Notes,
		CancelledAt: r.CancelledAt, CancelReason: r.CancelReason, CreatedAt: r.CreatedAt,
	}
}

func bookingList(list []model.ReservationDetail) echo.Map {
	if list == nil {
		list = []model.ReservationDetail{}
	}
	return echo.Map{"bookings": list, "count": len(list)}
}

// Create books a seat for the caller.
func (h *BookingHandler) Create(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	var req createBookingReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	date, err := model.ParseDate(req.Date)
	if err != nil {
		return badRequest(c, "date must be a date like 2025-01-31")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	balanceID := req.BalanceID
	if balanceID == nil && req.UsePackage && h.Balances != nil {
		b, err := h.Balances.ActiveBalance(ctx, uid)
		if err != nil {
			return respondError(c, h.Log, err)
		}
		balanceID = &b.ID
	}

	res, err := h.Commands.Create(ctx, service.CreateReservationInput{
		UserID: uid, ClassID: req.ClassID, Date: date, BalanceID: balanceID, Notes: req.Notes,
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, toReservationResp(res))
}

// Cancel cancels one of the caller's bookings, or any booking for an
// administrator.
func (h *BookingHandler) Cancel(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	var req cancelBookingReq
	if ok, err := bind(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	res, err := h.Commands.Cancel(ctx, service.CancelInput{
		ReservationID: id, ActorID: uid, ActorIsAdmin: middleware.IsAdmin(c), Reason: req.Reason,
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toReservationResp(res))
}

// MarkAttendance records whether the student came.
func (h *BookingHandler) MarkAttendance(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	var req attendanceReq
	if ok, err := bind(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	res, err := h.Commands.MarkAttendance(ctx, id, *req.Attended)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toReservationResp(res))
}

// Mine lists the caller's bookings.  ?status= filters by status and
// ?upcoming=true keeps confirmed bookings from today on.
func (h *BookingHandler) Mine(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	var q service.MyBookingsQuery
	if raw := c.QueryParam("status"); raw != "" {
		st, ok := model.ParseReservationStatus(raw)
		if !ok {
			return badRequest(c, "status must be one of confirmed, cancelled, completed, no-show")
		}
		q.Status = &st
	}
	q.Upcoming = c.QueryParam("upcoming") == "true"

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	list, err := h.Queries.MyBookings(ctx, uid, q)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, bookingList(list))
}

// Get returns one booking to its owner or an administrator.
func (h *BookingHandler) Get(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	d, err := h.Queries.GetBooking(ctx, id, uid, middleware.IsAdmin(c))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, d)
}

// AdminList lists bookings filtered by status, class_id, user_id and date.
func (h *BookingHandler) AdminList(c echo.Context) error {
	var f model.ReservationFilter
	if raw := c.QueryParam("status"); raw != "" {
		st, ok := model.ParseReservationStatus(raw)
		if !ok {
			return badRequest(c, "invalid status")
		}
		f.Status = &st
	}
	var ok bool
	if f.ClassID, ok = queryUint(c, "class_id"); !ok {
		return badRequest(c, "invalid class_id")
	}
	if f.UserID, ok = queryUint(c, "user_id"); !ok {
		return badRequest(c, "invalid user_id")
	}
	if raw := c.QueryParam("date"); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			return badRequest(c, "invalid date")
		}
		f.Date = &d
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	list, err := h.Queries.AdminBookings(ctx, f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, bookingList(list))
}

// Stats returns the booking dashboard figures.
func (h *BookingHandler) Stats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	stats, err := h.Queries.Stats(ctx)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if stats.PopularClasses == nil {
		stats.PopularClasses = []model.PopularClass{}
	}
	return c.JSON(http.StatusOK, stats)
}
