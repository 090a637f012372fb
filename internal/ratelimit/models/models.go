package models

import (
	"math"
	"time"
)

// Limit is a request budget per sliding window. A zero Requests disables it.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Enabled reports whether the budget is enforced.
func (l Limit) Enabled() bool {
	return l.Requests > 0 && l.Window > 0
}

// Result represents the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when not allowed
}

// RetryAfterSeconds rounds the wait until resetAt up to whole seconds, never
// below one.
func RetryAfterSeconds(now, resetAt time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	return max(secs, 1)
}

// ClientKey scopes a caller's budget to one route.
func ClientKey(route, ip string) string {
	return "kanon:ratelimit:" + route + ":" + ip
}

// ExceededResponse is the 429 body.
type ExceededResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}
