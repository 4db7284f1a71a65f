package hmacauth

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestMiddleware_AllowsValidSignature(t *testing.T) {
	body := `{"amount":"100"}`
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Signature("secret", ts, []byte(body))

	v := NewVerifier("secret", time.Minute)
	v.Now = func() time.Time { return now }

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set(defaultSignatureHeader, sig)
	req.Header.Set(defaultTimestampHeader, ts)
	rec := httptest.NewRecorder()

	called := false
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("handler was not called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsInvalidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	v := NewVerifier("secret", time.Minute)
	v.Now = func() time.Time { return now }

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"amount":"100"}`))
	req.Header.Set(defaultSignatureHeader, "deadbeef")
	req.Header.Set(defaultTimestampHeader, ts)
	rec := httptest.NewRecorder()

	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsStaleTimestamp(t *testing.T) {
	body := `{"amount":"100"}`
	now := time.Unix(1_700_000_000, 0)
	stale := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)

	v := NewVerifier("secret", time.Minute)
	v.Now = func() time.Time { return now }

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set(defaultSignatureHeader, Signature("secret", stale, []byte(body)))
	req.Header.Set(defaultTimestampHeader, stale)
	rec := httptest.NewRecorder()

	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_DisabledWithoutSecret(t *testing.T) {
	v := NewVerifier("", time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("{}"))
	rec := httptest.NewRecorder()

	called := false
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("handler was not called when verification is disabled")
	}
}
