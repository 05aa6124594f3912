package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestLimiter(cooldown time.Duration, maxPerHour int) (*Limiter, clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	limiter := New(&Config{
		Cooldown:   cooldown,
		MaxPerHour: maxPerHour,
		Clock:      clock,
	})
	return limiter, clock
}

func TestCooldownBetweenRequests(t *testing.T) {
	limiter, clock := newTestLimiter(2*time.Second, 100)

	if result := limiter.Check("10.0.0.1"); !result.Allowed {
		t.Fatalf("first request denied: %+v", result)
	}
	result := limiter.Check("10.0.0.1")
	if result.Allowed {
		t.Fatal("second immediate request allowed, want cooldown denial")
	}
	if result.Reason != "cooldown" {
		t.Errorf("reason = %q, want cooldown", result.Reason)
	}
	if result.RetryAfter <= 0 || result.RetryAfter > 2*time.Second {
		t.Errorf("retry after = %v, want within (0, 2s]", result.RetryAfter)
	}

	clock.Advance(2 * time.Second)
	if result := limiter.Check("10.0.0.1"); !result.Allowed {
		t.Errorf("request after cooldown denied: %+v", result)
	}
}

func TestHourlyCap(t *testing.T) {
	limiter, clock := newTestLimiter(time.Second, 3)

	for i := 0; i < 3; i++ {
		if result := limiter.Check("10.0.0.1"); !result.Allowed {
			t.Fatalf("request %d denied: %+v", i+1, result)
		}
		clock.Advance(time.Second)
	}

	result := limiter.Check("10.0.0.1")
	if result.Allowed {
		t.Fatal("request over hourly cap allowed")
	}
	if result.Reason != "hourly_limit" {
		t.Errorf("reason = %q, want hourly_limit", result.Reason)
	}

	// A different IP has its own window.
	if result := limiter.Check("10.0.0.2"); !result.Allowed {
		t.Errorf("other IP denied: %+v", result)
	}

	clock.Advance(time.Hour)
	if result := limiter.Check("10.0.0.1"); !result.Allowed {
		t.Errorf("request after window reset denied: %+v", result)
	}
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	r.RemoteAddr = "192.0.2.10:54321"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 203.0.113.9")

	if got := GetClientIP(r, false); got != "192.0.2.10" {
		t.Errorf("untrusted proxy ip = %q, want 192.0.2.10", got)
	}
	if got := GetClientIP(r, true); got != "203.0.113.9" {
		t.Errorf("trusted proxy ip = %q, want 203.0.113.9", got)
	}

	r.Header.Del("X-Forwarded-For")
	r.Header.Set("X-Real-IP", "198.51.100.7")
	if got := GetClientIP(r, true); got != "198.51.100.7" {
		t.Errorf("x-real-ip = %q, want 198.51.100.7", got)
	}
}
