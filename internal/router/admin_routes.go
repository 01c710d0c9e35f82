package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
)

// RegisterAdmin registers ADMIN-scoped endpoints under /v1/admin.
func RegisterAdmin(e *echo.Echo, cl *handler.ClassHandler, p *handler.PackageHandler, pay *handler.PaymentHandler, b *handler.BookingHandler, u *handler.UserHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)

	// ---- Classes ----
	g.GET("/classes", cl.AdminList)
	g.POST("/classes", cl.Create)
	g.PUT("/classes/:id", cl.Update)
	g.DELETE("/classes/:id", cl.Delete)

	// ---- Packages ----
	g.GET("/packages", p.AdminList)
	g.POST("/packages", p.Create)
	g.PUT("/packages/:id", p.Update)
	g.DELETE("/packages/:id", p.Delete)

	// ---- Bookings ----
	g.GET("/bookings", b.AdminList)
	g.GET("/bookings/stats", b.Stats)
	g.PUT("/bookings/:id/attendance", b.MarkAttendance)

	// ---- Users ----
	g.GET("/users", u.List)
	g.GET("/users/stats", u.Overview)
	g.GET("/users/:id", u.Get)
	g.PUT("/users/:id", u.Update)
	g.DELETE("/users/:id", u.Delete)

	// ---- Payments ----
	g.GET("/payments", pay.AdminList)
	g.GET("/payments/stats", pay.Stats)
	g.GET("/payments/:id", pay.Get)
	g.POST("/payments/manual", pay.Manual)
	g.PUT("/payments/:id/complete", pay.Complete)
	g.PUT("/payments/:id/fail", pay.Fail)
}
