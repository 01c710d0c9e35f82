package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
)

// RegisterStudent registers the endpoints a signed-in user works with:
// booking classes, buying packages and paying.  Administrators may call
// them too.  bookingLimit guards the writes that move capacity.
func RegisterStudent(e *echo.Echo, b *handler.BookingHandler, p *handler.PackageHandler, pay *handler.PaymentHandler, jwtSecret string, bookingLimit echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleStudent, model.RoleAdmin),
	)

	// ---- Bookings ----
	g.POST("/bookings", b.Create, bookingLimit)
	g.GET("/bookings/mine", b.Mine)
	g.GET("/bookings/:id", b.Get)
	g.PUT("/bookings/:id/cancel", b.Cancel, bookingLimit)

	// ---- Packages ----
	g.POST("/packages/:id/purchase", p.Purchase)
	g.GET("/my-packages", p.Mine)
	g.GET("/my-packages/active", p.Active)
	g.PUT("/my-packages/:id/default", p.SetDefault)

	// ---- Payments ----
	g.POST("/payments", pay.Create)
	g.GET("/payments/mine", pay.Mine)
	g.GET("/payments/:id", pay.Get)
}
