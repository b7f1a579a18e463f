package reliability

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Class groups upstream HTTP outcomes by how callers should react.
type Class int

const (
	ClassOK Class = iota
	ClassRateLimited
	ClassRetryable
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassRateLimited:
		return "rate_limited"
	case ClassRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// ClassifyHTTPStatus maps a provider status code to a Class.
func ClassifyHTTPStatus(code int) Class {
	switch {
	case code >= 200 && code < 300:
		return ClassOK
	case code == http.StatusTooManyRequests:
		return ClassRateLimited
	case code == http.StatusRequestTimeout || code >= 500:
		return ClassRetryable
	default:
		return ClassFatal
	}
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	c := ClassifyHTTPStatus(code)
	return c == ClassRateLimited || c == ClassRetryable
}

// RetryAfter parses a Retry-After header (delta seconds or HTTP date). Zero means
// absent or unparseable.
func RetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
