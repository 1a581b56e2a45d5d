package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.allow("10.0.0.1") {
			t.Fatalf("Request %d should have been allowed", i+1)
		}
	}
	if limiter.allow("10.0.0.1") {
		t.Error("Request over the limit should have been rejected")
	}

	// Other sources are independent.
	if !limiter.allow("10.0.0.2") {
		t.Error("Different source should have its own window")
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	interval := 50 * time.Millisecond
	limiter := NewRateLimiter(1, interval)

	if !limiter.allow("10.0.0.1") {
		t.Fatal("First request should be allowed")
	}
	if limiter.allow("10.0.0.1") {
		t.Fatal("Second request inside the window should be rejected")
	}

	time.Sleep(interval + 10*time.Millisecond)

	if !limiter.allow("10.0.0.1") {
		t.Error("Request after window reset should be allowed")
	}
}

func TestRateLimiter_CleanupKeepsMapBounded(t *testing.T) {
	interval := 50 * time.Millisecond
	limiter := NewRateLimiter(10, interval)

	for i := 0; i < 300; i++ {
		limiter.allow(fmt.Sprintf("192.168.1.%d", i))
	}

	time.Sleep(interval + 10*time.Millisecond)

	// Run past the cleanup stride so expired windows are dropped.
	for i := 0; i < cleanupStride; i++ {
		limiter.allow("10.0.0.1")
	}

	if size := len(limiter.sources); size > 10 {
		t.Errorf("Expected expired sources to be cleaned up, map still has %d entries", size)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/webhook", nil)
	req.RemoteAddr = "10.0.0.1:4242"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("First request: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Second request: expected 429, got %d", rec.Code)
	}
}

func TestClientIP_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:4242"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if ip := ClientIP(req); ip != "203.0.113.7" {
		t.Errorf("Expected first forwarded hop, got %s", ip)
	}

	req.Header.Del("X-Forwarded-For")
	if ip := ClientIP(req); ip != "10.0.0.1:4242" {
		t.Errorf("Expected RemoteAddr fallback, got %s", ip)
	}
}
