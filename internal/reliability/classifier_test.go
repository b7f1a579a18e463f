package reliability

import (
	"net/http"
	"testing"
	"time"
)

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want Class
	}{
		{200, ClassOK},
		{204, ClassOK},
		{400, ClassFatal},
		{401, ClassFatal},
		{408, ClassRetryable},
		{429, ClassRateLimited},
		{500, ClassRetryable},
		{503, ClassRetryable},
	}
	for _, tc := range cases {
		if got := ClassifyHTTPStatus(tc.code); got != tc.want {
			t.Fatalf("ClassifyHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
	if !IsRetryableHTTPStatus(429) || IsRetryableHTTPStatus(404) {
		t.Fatalf("IsRetryableHTTPStatus disagrees with ClassifyHTTPStatus")
	}
	if ClassRateLimited.String() != "rate_limited" {
		t.Fatalf("String() = %q, want rate_limited", ClassRateLimited.String())
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := RetryAfter("7", now); got != 7*time.Second {
		t.Fatalf("RetryAfter(7) = %v, want 7s", got)
	}
	date := now.Add(30 * time.Second).Format(http.TimeFormat)
	if got := RetryAfter(date, now); got != 30*time.Second {
		t.Fatalf("RetryAfter(date) = %v, want 30s", got)
	}
	for _, in := range []string{"", "-1", "soon"} {
		if got := RetryAfter(in, now); got != 0 {
			t.Fatalf("RetryAfter(%q) = %v, want 0", in, got)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, capDur); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want 400ms", got)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}
