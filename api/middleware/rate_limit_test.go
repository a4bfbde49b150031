package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeLimiter struct {
	counts map[string]int64
}

func (f *fakeLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	limiter := &fakeLimiter{counts: map[string]int64{}}
	policy := RateLimitPolicy{Name: "cart", Window: time.Minute, Limit: 2}
	handler := RateLimit(policy, limiter, nil)(okHandler())
	user := mustUUID(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", nil)
		req = req.WithContext(WithUserID(req.Context(), user))
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	other := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", nil)
	other = other.WithContext(WithUserID(other.Context(), mustUUID(t)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, other)
	if resp.Code != http.StatusOK {
		t.Fatalf("other caller should not be throttled, got %d", resp.Code)
	}
	if resp.Header().Get("X-RateLimit-Remaining") != "1" {
		t.Fatalf("expected remaining 1 got %q", resp.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	limiter := &fakeLimiter{counts: map[string]int64{}}
	handler := RateLimit(RateLimitPolicy{Name: "cart"}, limiter, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusOK || len(limiter.counts) != 0 {
		t.Fatalf("disabled policy should not consult limiter")
	}
}

func TestClientIPPrefersForwardedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", " 10.0.0.1, 10.0.0.2")
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("expected forwarded ip got %s", got)
	}
	req.Header.Del("X-Forwarded-For")
	req.RemoteAddr = "192.0.2.7:4242"
	if got := clientIP(req); got != "192.0.2.7" {
		t.Fatalf("expected remote ip got %s", got)
	}
}
