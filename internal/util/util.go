package util

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a prefixed ULID, e.g. "q_01J...".
func NewID(prefix string) string {
	// ULID is sortable (nice for DB indexes and dashboards)
	t := time.Now().UTC()
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewQueueID() string   { return NewID("q") }
func NewHistoryID() string { return NewID("h") }
func NewTokenID() string   { return NewID("tok") }

// NormalizeToken trims whitespace that clients sometimes send around push tokens.
func NormalizeToken(t string) string {
	return strings.TrimSpace(t)
}

// TokenPrefix shortens a push token for logs. Tokens are bearer credentials
// for a device, so only the first 8 characters are kept.
func TokenPrefix(t string) string {
	const keep = 8
	if len(t) <= keep {
		return t
	}
	return t[:keep] + "..."
}

// Very simple {var} replacement. Notification bodies are short fixed templates.
func RenderTemplate(body string, vars map[string]string) string {
	out := body
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// Capitalize upper-cases the first ASCII letter ("fajr" -> "Fajr").
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
