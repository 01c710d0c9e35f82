package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/config"
	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/metrics"
	"github.com/iliyamo/studio-booking/internal/middleware"
)

// Deps is everything New needs to build the HTTP server.  Redis and
// Metrics may be nil; the features depending on them are then disabled.
type Deps struct {
	JWTSecret string
	DB        *sql.DB
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Metrics   *metrics.Metrics
	Log       *zap.Logger

	Auth     *handler.AuthHandler
	Classes  *handler.ClassHandler
	Packages *handler.PackageHandler
	Payments *handler.PaymentHandler
	Bookings *handler.BookingHandler
	Users    *handler.UserHandler
}

// New returns an echo instance with the global middleware chain and every
// route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()

	e.Use(echomw.RequestID())
	e.Use(middleware.AccessLog(d.Log))
	e.Use(echomw.Recover())
	if d.Metrics != nil {
		e.Use(d.Metrics.Middleware())
	}
	e.Use(middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log))

	cache := middleware.NewRedisCache(d.Cache, d.Redis, d.Log)
	bookingLimit := middleware.NewTokenBucket(d.RateLimit.Booking(), d.Redis, d.Log)

	RegisterRoutes(e, d.DB, d.Metrics)
	RegisterAuth(e, d.Auth, d.JWTSecret)
	RegisterPublic(e, d.Classes, d.Packages, cache)
	RegisterStudent(e, d.Bookings, d.Packages, d.Payments, d.JWTSecret, bookingLimit)
	RegisterAdmin(e, d.Classes, d.Packages, d.Payments, d.Bookings, d.Users, d.JWTSecret)
	return e
}
