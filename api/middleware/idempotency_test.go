package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/commonsportal-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func checkoutRequest(key, body string) *http.Request {
	req := requestWithPattern(http.MethodPost, "/api/v1/checkout", "/api/v1/checkout", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req
}

func TestRuleSelection(t *testing.T) {
	tests := []struct {
		method   string
		pattern  string
		ok       bool
		required bool
	}{
		{http.MethodPost, "/api/v1/checkout", true, true},
		{http.MethodPost, "/api/v1/cart/items", true, false},
		{http.MethodPost, "/api/v1/order-items/{orderItemId}/complete", true, false},
		{http.MethodPost, "/api/v1/order-items/{orderItemId}/cancel", true, false},
		{http.MethodGet, "/api/v1/checkout", false, false},
		{http.MethodDelete, "/api/v1/cart/items/{cartItemId}", false, false},
	}

	for _, tt := range tests {
		rule, ok := ruleFor(tt.method, tt.pattern)
		if ok != tt.ok {
			t.Fatalf("%s %s: expected ok=%v got %v", tt.method, tt.pattern, tt.ok, ok)
		}
		if ok && rule.required != tt.required {
			t.Fatalf("%s %s: expected required=%v", tt.method, tt.pattern, tt.required)
		}
	}
}

func TestIdempotencyRequiresHeaderForCheckout(t *testing.T) {
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	resp := httptest.NewRecorder()
	Idempotency(newFakeStore(), time.Hour, nil)(handler).ServeHTTP(resp, checkoutRequest("", `{}`))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyOptionalRoutesPassThroughWithoutKey(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})
	mw := Idempotency(newFakeStore(), time.Hour, nil)(handler)

	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPost, "/api/v1/cart/items", "/api/v1/cart/items", strings.NewReader(`{}`))
		mw.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d", calls)
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, 2*time.Hour, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, checkoutRequest("abc", `{"cart_id":"1"}`))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected first response 201 got %d", resp.Code)
	}

	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, checkoutRequest("abc", `{"cart_id":"1"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected replay status 201 got %d", rec.Code)
	}
	if rec.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay marker header")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
	for _, ttl := range store.ttls {
		if ttl != 2*time.Hour {
			t.Fatalf("expected configured ttl, got %v", ttl)
		}
	}
}

func TestIdempotencyScopesKeysPerCaller(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})
	mw := Idempotency(store, time.Hour, nil)(handler)

	first := checkoutRequest("same", `{}`)
	first = first.WithContext(WithUserID(first.Context(), mustUUID(t)))
	mw.ServeHTTP(httptest.NewRecorder(), first)

	second := checkoutRequest("same", `{}`)
	second = second.WithContext(WithUserID(second.Context(), mustUUID(t)))
	mw.ServeHTTP(httptest.NewRecorder(), second)

	if calls != 2 {
		t.Fatalf("expected independent execution per caller, got %d calls", calls)
	}
}

func TestIdempotencySkipsTransientFailures(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	mw := Idempotency(store, time.Hour, nil)(handler)

	mw.ServeHTTP(httptest.NewRecorder(), checkoutRequest("k", `{}`))
	if len(store.data) != 0 {
		t.Fatalf("retryable response should not be stored")
	}

	resp := httptest.NewRecorder()
	mw.ServeHTTP(resp, checkoutRequest("k", `{}`))
	if resp.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry to run handler, code=%d calls=%d", resp.Code, calls)
	}
}

func TestIdempotencyDetectsBodyChange(t *testing.T) {
	mw := Idempotency(newFakeStore(), time.Hour, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw(handler).ServeHTTP(httptest.NewRecorder(), checkoutRequest("xyz", `{"cart_id":"a"}`))

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, checkoutRequest("xyz", `{"cart_id":"b"}`))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.Error.Code)
	}
}
