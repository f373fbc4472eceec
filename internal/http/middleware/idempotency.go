// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header on booking creation and
// annotates the request context so downstream code can:
//   - read the validated key (GetIdempotencyKey)
//   - see that the key is already recorded for the link (IsReplay)
//   - skip rate limiting for such a replay (IsRateBypass)
//
// The middleware never serves a replay itself. The handler passes the key to
// the booking service, which owns the (requester, link, key) record and
// returns the originally created booking. The lookup here is a cheap
// link-scoped hint; the service makes the authoritative, requester-scoped
// check inside its own read.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key. A
// client retrying a booking after a timeout sends the same key so it gets
// its first booking back instead of a Conflict for its own slot.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys for the values stashed by IdempotencyValidator. Read them
// through the accessors below.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: key already recorded for the link
	ctxKeyRateBypass = "rate.bypass" // bool: rate limiter lets the request through
)

// defaultKeyPattern is an RFC 7230 token-like set plus a few safe separators.
var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key stored by IdempotencyValidator.
// The second result is false when the request carried no key. Handlers use
// this rather than reading the header, which may hold an invalid value on
// routes the validator is not mounted on.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the key was already recorded for this link when
// the request arrived. It is a hint: the booking service decides whether the
// request is a replay for this requester.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether key has a live, unexpired record for
// linkID. The link id comes from the :id route parameter. Errors are ignored
// by the middleware and the request proceeds as a fresh one; the service
// makes the authoritative check.
type IdempotencyLookup func(ctx context.Context, linkID, key string, now time.Time) (bool, error)

// IdempotencyValidator validates the Idempotency-Key header and stashes it.
//
// Behavior:
//   - no header: the middleware is a no-op
//   - too long or outside the pattern: 400 with code bad_idempotency_key
//   - lookup reports the key as known: sets the replay and rate-bypass flags
//   - otherwise the request continues with the key stashed
//
// Mount it ahead of the rate limiter so replays of an accepted booking are
// not throttled.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if exists, err := lookup(c.Request.Context(), c.Param("id"), key, time.Now().UTC()); err == nil && exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
