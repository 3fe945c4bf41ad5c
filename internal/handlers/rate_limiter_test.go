package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSimpleRateLimiterEnforcesWindow(t *testing.T) {
	now := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	limiter := newSimpleRateLimiter(2, time.Minute, clock)

	if !limiter.Allow("10.0.0.1") || !limiter.Allow("10.0.0.1") {
		t.Fatalf("expected first two requests to pass")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatalf("expected third request within window to be rejected")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatalf("expected independent key to pass")
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("10.0.0.1") {
		t.Fatalf("expected request after window reset to pass")
	}
}

func TestSimpleRateLimiterDisabled(t *testing.T) {
	if limiter := newSimpleRateLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatalf("expected nil limiter for zero limit")
	}
	if limiter := newSimpleRateLimiter(10, 0, nil); limiter != nil {
		t.Fatalf("expected nil limiter for zero window")
	}
}

func TestWebhookRateLimitRejectsExcess(t *testing.T) {
	mw := WebhookRateLimit(1, time.Minute)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	first.RemoteAddr = "203.0.113.7:4123"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, first)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first delivery to pass, got %d", rr.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	second.RemoteAddr = "203.0.113.7:4124"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, second)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second delivery to be throttled, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %q", code)
	}
}
