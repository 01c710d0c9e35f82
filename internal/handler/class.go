package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/service"
)

// ClassHandler serves the public catalogue and the admin class endpoints.
type ClassHandler struct {
	Classes *service.ClassService
	Queries *service.QueryService
	Log     *zap.Logger
}

func NewClassHandler(classes *service.ClassService, queries *service.QueryService, log *zap.Logger) *ClassHandler {
	return &ClassHandler{Classes: classes, Queries: queries, Log: log.Named("classes")}
}

type classReq struct {
	Name        string  `json:"name" validate:"required,max=120"`
	Discipline  string  `json:"discipline" validate:"required,max=60"`
	AgeGroup    string  `json:"age_group" validate:"max=60"`
	Level       string  `json:"level" validate:"max=60"`
	Teacher     string  `json:"teacher" validate:"required,max=120"`
	DayOfWeek   string  `json:"day_of_week" validate:"required,weekday"`
	StartTime   string  `json:"start_time" validate:"required,hhmm"`
	EndTime     string  `json:"end_time" validate:"required,hhmm"`
	Room        uint8   `json:"room" validate:"required,oneof=1 2"`
	PriceCents  uint32  `json:"price_cents"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
	IsActive    *bool   `json:"is_active"`
}

func (r classReq) toModel() model.ClassSession {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return model.ClassSession{
		Name: strings.TrimSpace(r.Name), Discipline: strings.TrimSpace(r.Discipline),
		AgeGroup: r.AgeGroup, Level: r.Level, Teacher: strings.TrimSpace(r.Teacher),
		DayOfWeek: r.DayOfWeek, StartTime: r.StartTime, EndTime: r.EndTime, Room: r.Room,
		PriceCents: r.PriceCents, Description: r.Description, IsActive: active,
	}
}

type classResp struct {
	ID                uint64    `json:"id"`
	Name              string    `json:"name"`
	Discipline        string    `json:"discipline"`
	AgeGroup          string    `json:"age_group"`
	Level             string    `json:"level"`
	Teacher           string    `json:"teacher"`
	DayOfWeek         string    `json:"day_of_week"`
	StartTime         string    `json:"start_time"`
	EndTime           string    `json:"end_time"`
	DurationMinutes   int       `json:"duration_minutes"`
	Room              uint8     `json:"room"`
	MaxCapacity       int       `json:"max_capacity"`
	CurrentEnrollment int       `json:"current_enrollment"`
	AvailableSpots    int       `json:"available_spots"`
	HasAvailableSpots bool      `json:"has_available_spots"`
	PriceCents        uint32    `json:"price_cents"`
	Description       *string   `json:"description,omitempty"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

func toClassResp(c *model.ClassSession) classResp {
	return classResp{
		ID: c.ID, Name: c.Name, Discipline: c.Discipline, AgeGroup: c.AgeGroup, Level: c.Level,
		Teacher: c.Teacher, DayOfWeek: c.DayOfWeek, StartTime: c.StartTime, EndTime: c.EndTime,
		DurationMinutes: c.DurationMinutes, Room: c.Room, MaxCapacity: c.MaxCapacity,
		CurrentEnrollment: c.CurrentEnrollment, AvailableSpots: c.AvailableSpots(),
		HasAvailableSpots: c.HasAvailableSpots(), PriceCents: c.PriceCents,
		Description: c.Description, IsActive: c.IsActive, CreatedAt: c.CreatedAt,
	}
}

func toClassList(cs []model.ClassSession) []classResp {
	out := make([]classResp, 0, len(cs))
	for i := range cs {
		out = append(out, toClassResp(&cs[i]))
	}
	return out
}

// classFilter reads discipline, day and level query parameters.  The
// active parameter is only honoured when allowInactive is set.
func classFilter(c echo.Context, allowInactive bool) (model.ClassFilter, bool) {
	var f model.ClassFilter
	if v := strings.TrimSpace(c.QueryParam("discipline")); v != "" {
		f.Discipline = &v
	}
	if v := strings.TrimSpace(c.QueryParam("level")); v != "" {
		f.Level = &v
	}
	if v := strings.TrimSpace(c.QueryParam("day")); v != "" {
		wd, ok := model.ParseWeekday(v)
		if !ok {
			return f, false
		}
		day := model.WeekdayName(wd)
		f.DayOfWeek = &day
	}
	active := true
	if raw := c.QueryParam("active"); raw != "" && allowInactive {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, false
		}
		active = v
	}
	if !allowInactive || c.QueryParam("active") != "" {
		f.IsActive = &active
	}
	return f, true
}

// List returns active classes, optionally filtered.
func (h *ClassHandler) List(c echo.Context) error {
	return h.list(c, false)
}

// AdminList returns every class including inactive ones unless filtered
// with ?active=.
func (h *ClassHandler) AdminList(c echo.Context) error {
	return h.list(c, true)
}

func (h *ClassHandler) list(c echo.Context, admin bool) error {
	f, ok := classFilter(c, admin)
	if !ok {
		return badRequest(c, "invalid filter")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	classes, err := h.Classes.List(ctx, f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"classes": toClassList(classes), "count": len(classes)})
}

// Get returns one class with its available spots.
func (h *ClassHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid class id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	class, err := h.Classes.Get(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toClassResp(class))
}

// WeeklySchedule returns the active classes grouped by weekday.
func (h *ClassHandler) WeeklySchedule(c echo.Context) error {
	f, ok := classFilter(c, false)
	if !ok {
		return badRequest(c, "invalid filter")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	days, err := h.Queries.WeeklySchedule(ctx, f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	type dayResp struct {
		Day     string      `json:"day"`
		Classes []classResp `json:"classes"`
	}
	out := make([]dayResp, 0, len(days))
	for _, d := range days {
		out = append(out, dayResp{Day: d.Day, Classes: toClassList(d.Classes)})
	}
	return c.JSON(http.StatusOK, echo.Map{"schedule": out})
}

// Create adds a class.  Capacity follows from the room.
func (h *ClassHandler) Create(c echo.Context) error {
	var req classReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	class := req.toModel()

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Classes.Create(ctx, &class); err != nil {
		return respondError(c, h.Log, err)
	}
	created, err := h.Classes.Get(ctx, class.ID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, toClassResp(created))
}

// Update replaces a class's attributes.
func (h *ClassHandler) Update(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid class id")
	}
	var req classReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	class := req.toModel()
	class.ID = id

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	updated, err := h.Classes.Update(ctx, &class)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toClassResp(updated))
}

// Delete removes a class or deactivates it when bookings reference it.
func (h *ClassHandler) Delete(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid class id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	deleted, err := h.Classes.Delete(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if deleted {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "deactivated": true})
}
