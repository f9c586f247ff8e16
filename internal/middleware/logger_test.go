package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestLogger_SetsRequestID(t *testing.T) {
	h := Logger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusTeapot)
	}
	if res.Header.Get("X-Request-ID") == "" {
		t.Fatalf("X-Request-ID header must be set")
	}
}

func TestLogger_KeepsClientRequestID(t *testing.T) {
	h := Logger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-id-1")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if got := rec.Result().Header.Get("X-Request-ID"); got != "client-id-1" {
		t.Fatalf("X-Request-ID = %q, want %q", got, "client-id-1")
	}
}
