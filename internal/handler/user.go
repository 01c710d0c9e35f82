package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
)

// UserDirectory is the administrator's view of accounts.
// *repository.UserRepo implements it.
type UserDirectory interface {
	List(ctx context.Context, f model.UserFilter) ([]model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	Stats(ctx context.Context, id uint64) (model.UserStats, error)
	AdminUpdate(ctx context.Context, id uint64, u repository.AdminUserUpdate) error
	Delete(ctx context.Context, id uint64, today time.Time) (bool, error)
	Overview(ctx context.Context, today, monthStart time.Time) (model.StudioOverview, error)
}

// TokenRevoker signs a user out of every session.
type TokenRevoker interface {
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

// BookingLister lists reservations across users.
type BookingLister interface {
	AdminBookings(ctx context.Context, f model.ReservationFilter) ([]model.ReservationDetail, error)
}

const recentBookingsShown = 10

// UserHandler serves account management for administrators.
type UserHandler struct {
	Users    UserDirectory
	Tokens   TokenRevoker
	Bookings BookingLister
	Loc      *time.Location
	Log      *zap.Logger
	now      func() time.Time
}

func NewUserHandler(u UserDirectory, t TokenRevoker, b BookingLister, loc *time.Location, log *zap.Logger) *UserHandler {
	return &UserHandler{Users: u, Tokens: t, Bookings: b, Loc: loc, Log: log.Named("users"), now: time.Now}
}

type adminUserReq struct {
	FirstName      *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName       *string `json:"last_name" validate:"omitempty,max=100"`
	Phone          *string `json:"phone" validate:"omitempty,max=30"`
	EmergencyName  *string `json:"emergency_contact_name" validate:"omitempty,max=100"`
	EmergencyPhone *string `json:"emergency_contact_phone" validate:"omitempty,max=30"`
	Role           *string `json:"role" validate:"omitempty,oneof=STUDENT ADMIN"`
	IsActive       *bool   `json:"is_active"`
}

type adminUserResp struct {
	profileResp
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAdminUser(u model.User) adminUserResp {
	return adminUserResp{profileResp: toProfile(u), IsActive: u.IsActive, UpdatedAt: u.UpdatedAt}
}

// today returns the studio date and the first instant of its month.
func (h *UserHandler) today() (time.Time, time.Time) {
	now := time.Now()
	if h.now != nil {
		now = h.now()
	}
	loc := h.Loc
	if loc == nil {
		loc = time.UTC
	}
	today := model.DateOf(now, loc)
	local := now.In(loc)
	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc).UTC()
	return today, monthStart
}

// List returns accounts filtered by role, active and a free text search.
func (h *UserHandler) List(c echo.Context) error {
	var f model.UserFilter
	if raw := c.QueryParam("role"); raw != "" {
		role := strings.ToUpper(raw)
		if role != model.RoleStudent && role != model.RoleAdmin {
			return badRequest(c, "invalid role")
		}
		f.Role = &role
	}
	if raw := c.QueryParam("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "invalid active")
		}
		f.Active = &active
	}
	f.Search = c.QueryParam("search")

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	list, err := h.Users.List(ctx, f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	out := make([]adminUserResp, 0, len(list))
	for _, u := range list {
		out = append(out, toAdminUser(u))
	}
	return c.JSON(http.StatusOK, echo.Map{"users": out, "count": len(out)})
}

// Get returns an account with its booking counts, total paid and latest
// bookings.
func (h *UserHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	stats, err := h.Users.Stats(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	recent, err := h.Bookings.AdminBookings(ctx, model.ReservationFilter{UserID: &id})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if len(recent) > recentBookingsShown {
		recent = recent[:recentBookingsShown]
	}
	if recent == nil {
		recent = []model.ReservationDetail{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user":            toAdminUser(u),
		"stats":           stats,
		"recent_bookings": recent,
	})
}

// Update changes an account's profile, role or active flag.  Disabling an
// account signs it out everywhere.  Administrators cannot demote or
// disable themselves.
func (h *UserHandler) Update(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	var req adminUserReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	if self, _ := middleware.UserID(c); self == id {
		if req.Role != nil && *req.Role != model.RoleAdmin {
			return badRequest(c, "you cannot remove your own admin role")
		}
		if req.IsActive != nil && !*req.IsActive {
			return badRequest(c, "you cannot disable your own account")
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Users.AdminUpdate(ctx, id, repository.AdminUserUpdate{
		ProfileUpdate: repository.ProfileUpdate{
			FirstName: req.FirstName, LastName: req.LastName, Phone: req.Phone,
			EmergencyName: req.EmergencyName, EmergencyPhone: req.EmergencyPhone,
		},
		Role:     req.Role,
		IsActive: req.IsActive,
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if req.IsActive != nil && !*req.IsActive {
		if err := h.Tokens.RevokeAllForUser(ctx, id); err != nil {
			return respondError(c, h.Log, err)
		}
	}
	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	h.Log.Info("user updated", zap.Uint64("user_id", id), zap.String("role", u.Role), zap.Bool("active", u.IsActive))
	return c.JSON(http.StatusOK, toAdminUser(u))
}

// Delete removes an account without upcoming bookings.  Accounts with
// history are deactivated instead.
func (h *UserHandler) Delete(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	if self, _ := middleware.UserID(c); self == id {
		return badRequest(c, "you cannot delete your own account")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	today, _ := h.today()
	deleted, err := h.Users.Delete(ctx, id, today)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	h.Log.Info("user removed", zap.Uint64("user_id", id), zap.Bool("deleted", deleted))
	if deleted {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "deactivated": true})
}

// Overview returns the admin dashboard figures.
func (h *UserHandler) Overview(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	today, monthStart := h.today()
	o, err := h.Users.Overview(ctx, today, monthStart)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, o)
}
