package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestObserveBooking(t *testing.T) {
	m := New("studio")

	m.ObserveBooking("create", "ok")
	m.ObserveBooking("create", "CapacityExceeded")
	m.ObserveBooking("create", "CapacityExceeded")

	body := scrape(t, m)
	assert.Contains(t, body, `studio_booking_operations_total{operation="create",outcome="CapacityExceeded"} 2`)
	assert.Contains(t, body, `studio_booking_operations_total{operation="create",outcome="ok"} 1`)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New("studio")
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/v1/classes/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/classes/"+id, nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	body := scrape(t, m)
	assert.Contains(t, body, `studio_http_requests_total{method="GET",route="/v1/classes/:id",status="204"} 2`)
	assert.NotContains(t, body, `route="/v1/classes/1"`)
}
