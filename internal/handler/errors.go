package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
)

// errorResponse is the body of every error answer: a stable machine
// readable kind and a message that can be shown to the user.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	status  int
	message string
}

// businessErrors maps model.KindOf kinds to HTTP answers.
var businessErrors = map[string]errorMapping{
	"NotFound":                {http.StatusNotFound, "The requested resource does not exist."},
	"Forbidden":               {http.StatusForbidden, "You are not allowed to do that."},
	"CapacityExceeded":        {http.StatusConflict, "This class is full."},
	"DuplicateBooking":        {http.StatusConflict, "You already have a booking for this class on that date."},
	"ClassInactive":           {http.StatusConflict, "This class is not currently offered."},
	"PastClass":               {http.StatusUnprocessableEntity, "This class has already started."},
	"InvalidDate":             {http.StatusUnprocessableEntity, "The class does not take place on that date."},
	"InvalidState":            {http.StatusConflict, "The booking can no longer be changed."},
	"BalanceExpired":          {http.StatusUnprocessableEntity, "Your package has expired."},
	"BalanceDepleted":         {http.StatusUnprocessableEntity, "Your package has no classes left."},
	"PackageInactive":         {http.StatusConflict, "This package is no longer sold."},
	"PaymentNotCompleted":     {http.StatusPaymentRequired, "The payment has not been completed."},
	"PaymentAlreadyUsed":      {http.StatusConflict, "This payment was already used for a package."},
	"DuplicateSlot":           {http.StatusConflict, "Another class uses this room at that time."},
	"HasActiveBookings":       {http.StatusConflict, "There are upcoming bookings that must be cancelled first."},
	"CapacityBelowEnrollment": {http.StatusConflict, "More students are enrolled than the new room holds."},
	"InvalidRoom":             {http.StatusBadRequest, "Unknown room."},
	"InvalidSchedule":         {http.StatusBadRequest, "The class schedule is invalid."},
}

// respondError writes err as JSON.  Business outcomes get their own status
// and message; anything else is logged and answered with one generic 500
// so storage details never reach the client.
func respondError(c echo.Context, log *zap.Logger, err error) error {
	if kind := model.KindOf(err); kind != "" {
		m := businessErrors[kind]
		return c.JSON(m.status, errorResponse{Error: kind, Message: m.message})
	}
	switch {
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, errorResponse{Error: "Conflict", Message: "The request collided with another one, please retry."})
	case errors.Is(err, repository.ErrEmailExists):
		return c.JSON(http.StatusConflict, errorResponse{Error: "EmailExists", Message: "An account with this email already exists."})
	}
	log.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("route", c.Path()),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal", Message: "Something went wrong, please try again later."})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: "BadRequest", Message: msg})
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: "Unauthorized", Message: msg})
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// queryUint parses an optional numeric query parameter.
func queryUint(c echo.Context, name string) (*uint64, bool) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}
