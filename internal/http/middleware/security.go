// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, which attaches a conservative set of
// security headers for a JSON API running behind a reverse proxy, and
// NoStore for responses that must never be cached.
//
// Notes:
//   - no Content-Security-Policy: slotbook serves no HTML besides Swagger UI
//   - HSTS is opt-in and only sent on requests that arrived over HTTPS
//   - header values are computed once when the middleware is built
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
//
// EnableHSTS sends Strict-Transport-Security on HTTPS requests. Enable it
// only when traffic is HTTPS end to end, proxy hop included.
//
// HSTSMaxAge is the HSTS lifetime; zero or negative means 180 days.
//
// NoStore adds Cache-Control: no-store (plus legacy Pragma and Expires) to
// every response. Booking handlers call NoStore themselves, so the global
// switch is usually left off.
//
// EnablePolicy sends Permissions-Policy and X-Permitted-Cross-Domain-Policies.
// Only browsers act on them.
type SecurityOptions struct {
	EnableHSTS   bool          // only when traffic is HTTPS end-to-end
	HSTSMaxAge   time.Duration // defaults to 180 days
	NoStore      bool          // Cache-Control: no-store on every response
	EnablePolicy bool          // Permissions-Policy and friends
}

// SecurityHeaders returns a Gin middleware that adds hardening headers to
// each response.
//
// Behavior:
//   - always: X-Content-Type-Options: nosniff, X-Frame-Options: DENY and
//     Referrer-Policy: no-referrer
//   - EnablePolicy: Permissions-Policy denying geolocation, microphone,
//     camera and payment, plus X-Permitted-Cross-Domain-Policies: none
//   - NoStore: the headers set by NoStore
//   - EnableHSTS on an HTTPS request:
//     Strict-Transport-Security: max-age=<seconds>; includeSubDomains; preload
//   - when X-Request-ID is already set, it is added to
//     Access-Control-Expose-Headers so browser clients can read it
//
// It runs after RequestID and CORS in the router chain.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int64(opt.HSTSMaxAge / time.Second)
	if maxAge <= 0 {
		maxAge = int64((180 * 24 * time.Hour) / time.Second)
	}
	hsts := "max-age=" + strconv.FormatInt(maxAge, 10) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.NoStore {
			NoStore(c)
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		if h.Get(requestIDHeader) != "" {
			const expose = "Access-Control-Expose-Headers"
			switch cur := h.Get(expose); {
			case cur == "":
				h.Set(expose, requestIDHeader)
			case !strings.Contains(cur, requestIDHeader):
				h.Set(expose, cur+", "+requestIDHeader)
			}
		}
		c.Next()
	}
}

// NoStore marks the response as uncacheable. Booking responses carry cancel
// tokens and requester details.
func NoStore(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// isHTTPS reports whether the request arrived over TLS directly or through
// a proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
