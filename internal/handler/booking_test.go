package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
	"github.com/iliyamo/studio-booking/internal/service"
	"github.com/iliyamo/studio-booking/internal/utils"
)

const testSecret = "handler-secret"

type stubCommands struct {
	createErr error
	lastIn    service.CreateReservationInput
	cancelIn  service.CancelInput
}

func (s *stubCommands) Create(_ context.Context, in service.CreateReservationInput) (*model.Reservation, error) {
	s.lastIn = in
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &model.Reservation{ID: 9, UserID: in.UserID, ClassID: in.ClassID, Date: in.Date,
		Status: model.StatusConfirmed, BalanceID: in.BalanceID}, nil
}

func (s *stubCommands) Cancel(_ context.Context, in service.CancelInput) (*model.Reservation, error) {
	s.cancelIn = in
	reason := "cancelled by user"
	return &model.Reservation{ID: in.ReservationID, Status: model.StatusCancelled, CancelReason: &reason}, nil
}

func (s *stubCommands) MarkAttendance(_ context.Context, id uint64, attended bool) (*model.Reservation, error) {
	st := model.StatusNoShow
	if attended {
		st = model.StatusCompleted
	}
	return &model.Reservation{ID: id, Status: st, Attended: attended}, nil
}

type stubQueries struct{ mine service.MyBookingsQuery }

func (s *stubQueries) MyBookings(_ context.Context, _ uint64, q service.MyBookingsQuery) ([]model.ReservationDetail, error) {
	s.mine = q
	return nil, nil
}

func (s *stubQueries) GetBooking(_ context.Context, id, actorID uint64, admin bool) (*model.ReservationDetail, error) {
	if actorID != 3 && !admin {
		return nil, model.ErrForbidden
	}
	return &model.ReservationDetail{ID: id, UserID: 3, Date: "2026-10-19"}, nil
}

func (s *stubQueries) AdminBookings(context.Context, model.ReservationFilter) ([]model.ReservationDetail, error) {
	return nil, nil
}

func (s *stubQueries) Stats(context.Context) (model.BookingStats, error) {
	return model.BookingStats{Total: 3}, nil
}

type stubBalances struct{}

func (stubBalances) ActiveBalance(_ context.Context, userID uint64) (*model.PackageBalance, error) {
	if userID != 3 {
		return nil, model.ErrNotFound
	}
	return &model.PackageBalance{ID: 77, UserID: 3}, nil
}

func newBookingServer(t *testing.T, cmd *stubCommands, q *stubQueries) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.Validator = NewRequestValidator()
	h := NewBookingHandler(cmd, q, stubBalances{}, zap.NewNop())

	g := e.Group("/v1", middleware.JWTAuth(testSecret))
	g.POST("/bookings", h.Create)
	g.GET("/bookings/mine", h.Mine)
	g.GET("/bookings/:id", h.Get)
	g.PUT("/bookings/:id/cancel", h.Cancel)
	g.PUT("/admin/bookings/:id/attendance", h.MarkAttendance, middleware.RequireRole(model.RoleAdmin))
	g.GET("/admin/bookings/stats", h.Stats, middleware.RequireRole(model.RoleAdmin))
	return e
}

func call(t *testing.T, e *echo.Echo, method, target, body string, userID uint64, role string) *httptest.ResponseRecorder {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, userID, role, 5)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateBooking(t *testing.T) {
	cmd := &stubCommands{}
	e := newBookingServer(t, cmd, &stubQueries{})

	rec := call(t, e, http.MethodPost, "/v1/bookings", `{"class_id":1,"date":"2026-10-19","use_package":true}`, 3, model.RoleStudent)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"date":"2026-10-19"`)
	assert.Contains(t, rec.Body.String(), `"status":"confirmed"`)

	assert.Equal(t, uint64(3), cmd.lastIn.UserID)
	assert.True(t, cmd.lastIn.Date.Equal(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, cmd.lastIn.BalanceID)
	assert.Equal(t, uint64(77), *cmd.lastIn.BalanceID)
}

func TestCreateBookingValidation(t *testing.T) {
	e := newBookingServer(t, &stubCommands{}, &stubQueries{})

	for name, body := range map[string]string{
		"missing class": `{"date":"2026-10-19"}`,
		"bad date":      `{"class_id":1,"date":"19/10/2026"}`,
		"not json":      `{`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := call(t, e, http.MethodPost, "/v1/bookings", body, 3, model.RoleStudent)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error":"BadRequest"`)
		})
	}
}

func TestCreateBookingMapsBusinessErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{model.ErrCapacityExceeded, http.StatusConflict, "CapacityExceeded"},
		{model.ErrDuplicateBooking, http.StatusConflict, "DuplicateBooking"},
		{model.ErrPastClass, http.StatusUnprocessableEntity, "PastClass"},
		{model.ErrBalanceExpired, http.StatusUnprocessableEntity, "BalanceExpired"},
		{model.ErrNotFound, http.StatusNotFound, "NotFound"},
		{repository.ErrConflict, http.StatusConflict, "Conflict"},
		{context.DeadlineExceeded, http.StatusInternalServerError, "Internal"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			e := newBookingServer(t, &stubCommands{createErr: tc.err}, &stubQueries{})
			rec := call(t, e, http.MethodPost, "/v1/bookings", `{"class_id":1,"date":"2026-10-19"}`, 3, model.RoleStudent)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error":"`+tc.kind+`"`)
			assert.NotContains(t, rec.Body.String(), "deadline")
		})
	}
}

func TestCancelBookingPassesRole(t *testing.T) {
	cmd := &stubCommands{}
	e := newBookingServer(t, cmd, &stubQueries{})

	rec := call(t, e, http.MethodPut, "/v1/bookings/5/cancel", `{"reason":"ill"}`, 1, model.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(5), cmd.cancelIn.ReservationID)
	assert.True(t, cmd.cancelIn.ActorIsAdmin)
	assert.Equal(t, "ill", *cmd.cancelIn.Reason)

	rec = call(t, e, http.MethodPut, "/v1/bookings/5/cancel", "", 3, model.RoleStudent)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, cmd.cancelIn.ActorIsAdmin)
	assert.Nil(t, cmd.cancelIn.Reason)
}

func TestGetBookingForbidden(t *testing.T) {
	e := newBookingServer(t, &stubCommands{}, &stubQueries{})

	assert.Equal(t, http.StatusOK, call(t, e, http.MethodGet, "/v1/bookings/1", "", 3, model.RoleStudent).Code)
	assert.Equal(t, http.StatusForbidden, call(t, e, http.MethodGet, "/v1/bookings/1", "", 4, model.RoleStudent).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, e, http.MethodGet, "/v1/bookings/abc", "", 3, model.RoleStudent).Code)
}

func TestMyBookingsQuery(t *testing.T) {
	q := &stubQueries{}
	e := newBookingServer(t, &stubCommands{}, q)

	rec := call(t, e, http.MethodGet, "/v1/bookings/mine?status=no-show&upcoming=true", "", 3, model.RoleStudent)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bookings":[],"count":0}`, rec.Body.String())
	assert.True(t, q.mine.Upcoming)
	assert.Equal(t, model.StatusNoShow, *q.mine.Status)

	rec = call(t, e, http.MethodGet, "/v1/bookings/mine?status=lost", "", 3, model.RoleStudent)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttendanceRequiresAdmin(t *testing.T) {
	e := newBookingServer(t, &stubCommands{}, &stubQueries{})

	rec := call(t, e, http.MethodPut, "/v1/admin/bookings/5/attendance", `{"attended":true}`, 3, model.RoleStudent)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, e, http.MethodPut, "/v1/admin/bookings/5/attendance", `{"attended":false}`, 1, model.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"no-show"`)

	rec = call(t, e, http.MethodPut, "/v1/admin/bookings/5/attendance", `{}`, 1, model.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, e, http.MethodGet, "/v1/admin/bookings/stats", "", 1, model.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"popular_classes":[]`)
}
