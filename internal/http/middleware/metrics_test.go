package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsByRouteAndBoundsUnmatched(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/bookings/:id", func(c *gin.Context) { c.String(http.StatusOK, "hello") })
	r.POST("/bookings/:id/cancel", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/bookings/:id", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedRoute, "404"))
	base204 := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/bookings/:id/cancel", "204"))

	for _, p := range []string{"/bookings/a", "/bookings/b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	for _, p := range []string{"/nope/1", "/nope/2", "/nope/3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/bookings/a/cancel", nil))

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/bookings/:id", "200")); got != baseOK+2 {
		t.Fatalf("route counter = %v; want %v", got, baseOK+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedRoute, "404")); got != base404+3 {
		t.Fatalf("unmatched counter = %v; want %v", got, base404+3)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/bookings/:id/cancel", "204")); got != base204+1 {
		t.Fatalf("cancel counter = %v; want %v", got, base204+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}
