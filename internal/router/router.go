package router // router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/metrics"
	"github.com/iliyamo/studio-booking/internal/middleware"
)

// RegisterRoutes registers the health checks and, when metrics are enabled, the
// Prometheus endpoint.  None of them require authentication.
func RegisterRoutes(e *echo.Echo, db *sql.DB, m *metrics.Metrics) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
}

// RegisterAuth registers the session endpoints under /v1/auth and the
// profile endpoints under /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/refresh-access", a.RefreshAccess)
	// Logout accepts a refresh token in the body, so it needs no access token.
	g.POST("/logout", a.Logout)

	me := e.Group("/v1/me", middleware.JWTAuth(jwtSecret))
	me.GET("", a.Me)
	me.PUT("", a.UpdateMe)
	me.PUT("/password", a.ChangePassword)
}

// RegisterPublic registers the catalogue endpoints guests may browse.
// Listings showing available spots or prices go through cache, which the
// services purge after every write.
func RegisterPublic(e *echo.Echo, cl *handler.ClassHandler, p *handler.PackageHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/classes", cl.List, cache)
	e.GET("/v1/classes/schedule/weekly", cl.WeeklySchedule, cache)
	e.GET("/v1/classes/:id", cl.Get)

	e.GET("/v1/packages", p.List, cache)
	e.GET("/v1/packages/:id", p.Get)
}
