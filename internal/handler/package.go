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
	"github.com/iliyamo/studio-booking/internal/repository"
	"github.com/iliyamo/studio-booking/internal/service"
)

// packagesRoute is the cached public listing purged after admin writes.
const packagesRoute = "/v1/packages"

// PackageHandler serves package definitions, purchases and the caller's
// balances.
type PackageHandler struct {
	Packages *repository.PackageRepo
	Service  *service.PackageService
	Purger   service.CachePurger
	Log      *zap.Logger
}

func NewPackageHandler(packages *repository.PackageRepo, svc *service.PackageService, purger service.CachePurger, log *zap.Logger) *PackageHandler {
	return &PackageHandler{Packages: packages, Service: svc, Purger: purger, Log: log.Named("packages")}
}

type packageReq struct {
	Name         string   `json:"name" validate:"required,max=120"`
	Type         string   `json:"type" validate:"required,oneof=classes monthly unlimited"`
	ClassCount   *int     `json:"class_count" validate:"omitempty,min=1"`
	PriceCents   uint32   `json:"price_cents" validate:"required"`
	ValidityDays int      `json:"validity_days" validate:"required,min=1,max=730"`
	Description  *string  `json:"description" validate:"omitempty,max=1000"`
	Features     []string `json:"features" validate:"omitempty,dive,max=200"`
	IsActive     *bool    `json:"is_active"`
}

// countMissing reports a class-count package without a count.
func (r packageReq) countMissing() bool {
	return model.PackageType(r.Type) == model.PackageClasses && r.ClassCount == nil
}

func (r packageReq) toModel() model.PackageDefinition {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return model.PackageDefinition{
		Name: strings.TrimSpace(r.Name), Type: model.PackageType(r.Type), ClassCount: r.ClassCount,
		PriceCents: r.PriceCents, ValidityDays: r.ValidityDays, Description: r.Description,
		Features: r.Features, IsActive: active,
	}
}

type packageResp struct {
	ID           uint64    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	ClassCount   *int      `json:"class_count"`
	TotalClasses int       `json:"total_classes"`
	PriceCents   uint32    `json:"price_cents"`
	ValidityDays int       `json:"validity_days"`
	Description  *string   `json:"description,omitempty"`
	Features     []string  `json:"features"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

func toPackageResp(p *model.PackageDefinition) packageResp {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return packageResp{
		ID: p.ID, Name: p.Name, Type: string(p.Type), ClassCount: p.ClassCount, TotalClasses: p.TotalClasses(),
		PriceCents: p.PriceCents, ValidityDays: p.ValidityDays, Description: p.Description,
		Features: features, IsActive: p.IsActive, CreatedAt: p.CreatedAt,
	}
}

type balanceResp struct {
	ID               uint64    `json:"id"`
	PackageID        uint64    `json:"package_id"`
	PaymentID        *uint64   `json:"payment_id,omitempty"`
	TotalClasses     int       `json:"total_classes"`
	UsedClasses      int       `json:"used_classes"`
	RemainingClasses int       `json:"remaining_classes"`
	PurchaseDate     time.Time `json:"purchase_date"`
	ExpiryDate       time.Time `json:"expiry_date"`
	Status           string    `json:"status"`
	IsDefault        bool      `json:"is_default"`
}

func toBalanceResp(b *model.PackageBalance) balanceResp {
	return balanceResp{
		ID: b.ID, PackageID: b.PackageID, PaymentID: b.PaymentID, TotalClasses: b.TotalClasses,
		UsedClasses: b.UsedClasses, RemainingClasses: b.RemainingClasses, PurchaseDate: b.PurchaseDate,
		ExpiryDate: b.ExpiryDate, Status: string(b.Status), IsDefault: b.IsDefault,
	}
}

func (h *PackageHandler) purge(ctx context.Context) {
	if h.Purger == nil {
		return
	}
	if err := h.Purger.Purge(context.WithoutCancel(ctx), packagesRoute); err != nil {
		h.Log.Warn("package cache purge failed", zap.Error(err))
	}
}

// List returns the packages on sale, cheapest first.
func (h *PackageHandler) List(c echo.Context) error {
	return h.list(c, true)
}

// AdminList includes withdrawn packages.
func (h *PackageHandler) AdminList(c echo.Context) error {
	return h.list(c, false)
}

func (h *PackageHandler) list(c echo.Context, activeOnly bool) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	defs, err := h.Packages.List(ctx, activeOnly)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	out := make([]packageResp, 0, len(defs))
	for i := range defs {
		out = append(out, toPackageResp(&defs[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"packages": out, "count": len(out)})
}

// Get returns one package definition.
func (h *PackageHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid package id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	p, err := h.Packages.GetByID(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toPackageResp(p))
}

// Create adds a package definition.
func (h *PackageHandler) Create(c echo.Context) error {
	var req packageReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	if req.countMissing() {
		return badRequest(c, "class_count is required for classes packages")
	}
	p := req.toModel()

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Packages.Create(ctx, &p); err != nil {
		return respondError(c, h.Log, err)
	}
	h.purge(ctx)
	created, err := h.Packages.GetByID(ctx, p.ID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, toPackageResp(created))
}

// Update replaces a package definition.  Balances already sold keep their
// terms.
func (h *PackageHandler) Update(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid package id")
	}
	var req packageReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	if req.countMissing() {
		return badRequest(c, "class_count is required for classes packages")
	}
	p := req.toModel()
	p.ID = id

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Packages.Update(ctx, &p); err != nil {
		return respondError(c, h.Log, err)
	}
	h.purge(ctx)
	updated, err := h.Packages.GetByID(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toPackageResp(updated))
}

// Delete removes a package definition, or withdraws it from sale when it
// was already purchased.
func (h *PackageHandler) Delete(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid package id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	deleted, err := h.Packages.Delete(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	h.purge(ctx)
	if deleted {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "deactivated": true})
}

type purchaseReq struct {
	PaymentID uint64 `json:"payment_id" validate:"required"`
}

// Purchase turns the caller's completed payment into a package balance.
func (h *PackageHandler) Purchase(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid package id")
	}
	var req purchaseReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	b, err := h.Service.Purchase(ctx, uid, id, req.PaymentID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, toBalanceResp(b))
}

// Mine lists the caller's balances, optionally by ?status=.
func (h *PackageHandler) Mine(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	var status *model.BalanceStatus
	if raw := c.QueryParam("status"); raw != "" {
		st, ok := model.ParseBalanceStatus(raw)
		if !ok {
			return badRequest(c, "status must be one of active, expired, depleted")
		}
		status = &st
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	list, err := h.Service.ListMine(ctx, uid, status)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	out := make([]balanceResp, 0, len(list))
	for i := range list {
		out = append(out, toBalanceResp(&list[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"packages": out, "count": len(out)})
}

// Active returns the balance new bookings draw from.
func (h *PackageHandler) Active(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	b, err := h.Service.ActiveBalance(ctx, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toBalanceResp(b))
}

// SetDefault marks one of the caller's balances as default.
func (h *PackageHandler) SetDefault(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c, "unauthorized")
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid balance id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	b, err := h.Service.SetDefault(ctx, uid, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, toBalanceResp(b))
}
