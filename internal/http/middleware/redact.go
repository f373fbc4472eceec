package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

var (
	emailRE = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	// Three base64url segments separated by dots.
	jwtRE = regexp.MustCompile(`[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}`)
)

// sensitiveParams are query parameters dropped wholesale.
var sensitiveParams = map[string]struct{}{
	"token":        {},
	"cancel_token": {},
	"email":        {},
}

// scrubber removes requester emails and cancel tokens from logged request
// metadata. Bodies are never logged.
type scrubber struct {
	maskHeaders map[string]struct{}
}

func newScrubber(extra []string) scrubber {
	m := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			m[h] = struct{}{}
		}
	}
	return scrubber{maskHeaders: m}
}

func scrubText(s string) string {
	if s == "" {
		return s
	}
	s = jwtRE.ReplaceAllString(s, "[REDACTED:token]")
	return emailRE.ReplaceAllString(s, "[REDACTED:email]")
}

// query scrubs a raw query string. Unparseable input is scrubbed as text.
func (s scrubber) query(raw string) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return scrubText(raw)
	}
	for k, vv := range vals {
		if _, ok := sensitiveParams[strings.ToLower(k)]; ok {
			vals[k] = []string{redacted}
			continue
		}
		for i, v := range vv {
			vv[i] = scrubText(v)
		}
	}
	enc := vals.Encode()
	if plain, err := url.QueryUnescape(enc); err == nil {
		return plain
	}
	return enc
}

func (s scrubber) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := s.maskHeaders[strings.ToLower(k)]; ok {
			out[k] = redacted
			continue
		}
		out[k] = scrubText(strings.Join(vv, ", "))
	}
	return out
}
