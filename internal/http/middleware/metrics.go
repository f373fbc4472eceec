// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. Metrics()
// records request counts, latencies, in-flight concurrency and response sizes
// under the "slotbook" namespace, labelled by:
//
//   - method: HTTP verb (GET, POST, ...)
//   - path:   the registered Gin route (e.g. /api/v1/links/:id/bookings);
//     requests that match no route share the "unmatched" label
//   - status: numeric status code as a string (e.g. "201", "409")
//
// Route templates rather than raw URLs keep the series count bounded: link
// and booking ids never become label values. All collectors are safe for
// concurrent use and are registered with the default registry in init.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute is the path label for 404s and 405s without a route.
const unmatchedRoute = "unmatched"

var (
	// httpReqs counts requests by method, route and status code.
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotbook",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// httpLat records request duration in seconds by method and route.
	// Status is left out to keep the histogram small.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "slotbook",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// httpInflight gauges requests currently inside the handler chain.
	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "slotbook",
			Name:      "http_requests_inflight",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	// httpRespSize captures response body sizes by method and route. Booking
	// payloads are small; availability listings for a full day are the
	// largest responses.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "slotbook",
			Name:      "http_response_size_bytes",
			Help:      "Size of HTTP responses in bytes.",
			Buckets:   prometheus.ExponentialBuckets(128, 4, 8), // 128B..2MiB
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize)
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
//
// Semantics:
//   - increments slotbook_http_requests_total(method, path, status)
//   - observes slotbook_http_request_duration_seconds(method, path)
//   - tracks slotbook_http_requests_inflight while the chain runs
//   - observes slotbook_http_response_size_bytes(method, path) when the
//     writer reports a size
//
// Booking outcomes (confirmed, Conflict, contention, ...) are counted
// separately by the services package, so a 409 here can be broken down by
// rejection reason there.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// Size is -1 when nothing was written.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
