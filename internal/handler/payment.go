package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
)

// PaymentStore persists payments.  *repository.PaymentRepo implements it.
type PaymentStore interface {
	Create(ctx context.Context, p *model.Payment) error
	GetByID(ctx context.Context, id uint64) (*model.Payment, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Payment, error)
	List(ctx context.Context, f model.PaymentFilter) ([]model.Payment, error)
	Stats(ctx context.Context) (model.PaymentStats, error)
	Settle(ctx context.Context, id uint64, to model.PaymentStatus, gatewayRef *string, now time.Time) error
}

// UserLookup resolves an account by id.  *repository.UserRepo implements it.
type UserLookup interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// PaymentHandler records payments.  The gateway is out of scope: an
// administrator confirming a payment stands in for its callback.
type PaymentHandler struct {
	Payments PaymentStore
	Users    UserLookup
	Log      *zap.Logger
	now      func() time.Time
}

func NewPaymentHandler(p PaymentStore, u UserLookup, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{Payments: p, Users: u, Log: log.Named("payments"), now: time.Now}
}

func (h *PaymentHandler) clock() time.Time {
	if h.now == nil {
		return time.Now()
	}
	return h.now()
}

type paymentReq struct {
	AmountCents uint32  `json:"amount_cents" validate:"required"`
	Currency    string  `json:"currency" validate:"omitempty,len=3"`
	Method      string  `json:"method" validate:"required,oneof=card cash transfer other"`
	Description *string `json:"description" validate:"omitempty,max=255"`
}

type manualPaymentReq struct {
	UserID      uint64  `json:"user_id" validate:"required"`
	AmountCents uint32  `json:"amount_cents" validate:"required"`
	Currency    string  `json:"currency" validate:"omitempty,len=3"`
	Method      string  `json:"method" validate:"required,oneof=card cash transfer other"`
	Description *string `json:"description" validate:"omitempty,max=255"`
}

type settleReq struct {
	GatewayRef *string `json:"gateway_ref" validate:"omitempty,max=120"`
}

type paymentResp struct {
	ID          uint64     `json:"id"`
	UserID      uint64     `json:"user_id"`
	AmountCents uint32     `json:"amount_cents"`
	Currency    string     `json:"currency"`
	Method      string     `json:"method"`
	Status      string     `json:"status"`
	GatewayRef  *string    `json:"gateway_ref,omitempty"`
	Description *string    `json:"description,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toPaymentResp(p *model.Payment) paymentResp {
	return paymentResp{
		ID: p.ID, UserID: p.UserID, AmountCents: p.AmountCents, Currency: p.Currency, Method: p.Method,
		Status: string(p.Status), GatewayRef: p.GatewayRef, Description: p.Description,
		CompletedAt: p.CompletedAt, CreatedAt: p.CreatedAt,
	}
}

// Create records a pending payment for the caller.
func (h *PaymentHandler) Create(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	var req paymentReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	p := req.payment(uid)
	p.Status = model.PaymentPending

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	created, err := h.create(ctx, &p)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, toPaymentResp(created))
}

func (r paymentReq) payment(userID uint64) model.Payment {
	currency := strings.ToUpper(r.Currency)
	if currency == "" {
		currency = "EUR"
	}
	return model.Payment{
		UserID: userID, AmountCents: r.AmountCents, Currency: currency, Method: r.Method,
		Description: r.Description,
	}
}

// create inserts p and reads it back with its server-side timestamps.
func (h *PaymentHandler) create(ctx context.Context, p *model.Payment) (*model.Payment, error) {
	if err := h.Payments.Create(ctx, p); err != nil {
		return nil, err
	}
	return h.Payments.GetByID(ctx, p.ID)
}

// Manual records a payment an administrator received outside the gateway,
// typically cash at the front desk.  It is created completed.
func (h *PaymentHandler) Manual(c echo.Context) error {
	var req manualPaymentReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Users.GetByID(ctx, req.UserID); err != nil {
		return respondError(c, h.Log, err)
	}
	now := h.clock()
	p := paymentReq{
		AmountCents: req.AmountCents, Currency: req.Currency, Method: req.Method, Description: req.Description,
	}.payment(req.UserID)
	p.Status = model.PaymentCompleted
	p.CompletedAt = &now
	created, err := h.create(ctx, &p)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	h.Log.Info("manual payment recorded", zap.Uint64("payment_id", p.ID), zap.Uint64("user_id", p.UserID))
	return c.JSON(http.StatusCreated, toPaymentResp(created))
}

// Mine lists the caller's payments.
func (h *PaymentHandler) Mine(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	list, err := h.Payments.ListByUser(ctx, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, paymentList(list))
}

func paymentList(list []model.Payment) echo.Map {
	out := make([]paymentResp, 0, len(list))
	for i := range list {
		out = append(out, toPaymentResp(&list[i]))
	}
	return echo.Map{"payments": out, "count": len(out)}
}

// Get returns one payment to its owner or an administrator.
func (h *PaymentHandler) Get(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid payment id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	p, err := h.Payments.GetByID(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if p.UserID != uid && !middleware.IsAdmin(c) {
		return respondError(c, h.Log, model.ErrForbidden)
	}
	return c.JSON(http.StatusOK, toPaymentResp(p))
}

// AdminList lists payments filtered by status, user_id and a start_date /
// end_date range of creation dates, both inclusive.
func (h *PaymentHandler) AdminList(c echo.Context) error {
	var f model.PaymentFilter
	if raw := c.QueryParam("status"); raw != "" {
		st, ok := model.ParsePaymentStatus(raw)
		if !ok {
			return badRequest(c, "invalid status")
		}
		f.Status = &st
	}
	var ok bool
	if f.UserID, ok = queryUint(c, "user_id"); !ok {
		return badRequest(c, "invalid user_id")
	}
	if raw := c.QueryParam("start_date"); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			return badRequest(c, "invalid start_date")
		}
		f.From = &d
	}
	if raw := c.QueryParam("end_date"); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			return badRequest(c, "invalid end_date")
		}
		end := d.AddDate(0, 0, 1)
		f.To = &end
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	list, err := h.Payments.List(ctx, f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, paymentList(list))
}

// Stats returns revenue and settlement figures.
func (h *PaymentHandler) Stats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	st, err := h.Payments.Stats(ctx)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if st.Monthly == nil {
		st.Monthly = []model.MonthlyRevenue{}
	}
	return c.JSON(http.StatusOK, st)
}

// Complete marks a pending payment as completed.
func (h *PaymentHandler) Complete(c echo.Context) error {
	return h.settle(c, model.PaymentCompleted)
}

// Fail marks a pending payment as failed.
func (h *PaymentHandler) Fail(c echo.Context) error {
	return h.settle(c, model.PaymentFailed)
}

func (h *PaymentHandler) settle(c echo.Context, to model.PaymentStatus) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid payment id")
	}
	var req settleReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Payments.Settle(ctx, id, to, req.GatewayRef, h.clock()); err != nil {
		return respondError(c, h.Log, err)
	}
	p, err := h.Payments.GetByID(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	h.Log.Info("payment settled", zap.Uint64("payment_id", id), zap.String("status", string(to)))
	return c.JSON(http.StatusOK, toPaymentResp(p))
}
