package rateLimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func guardedHandler(t *testing.T) http.Handler {
	t.Helper()
	return RequestCode()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func post(t *testing.T, h http.Handler, remoteAddr string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/request-code", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRequestCodeGuard_KeysPerIP(t *testing.T) {
	h := guardedHandler(t)

	for i := 1; i <= 3; i++ {
		if code := post(t, h, "1.2.3.4:1000"); code != http.StatusOK {
			t.Fatalf("request %d from first IP: status=%d, want 200", i, code)
		}
	}
	if code := post(t, h, "1.2.3.4:1000"); code != http.StatusTooManyRequests {
		t.Fatalf("4th request from first IP: status=%d, want 429", code)
	}

	// An exhausted window for one client must not throttle another.
	if code := post(t, h, "5.6.7.8:1000"); code != http.StatusOK {
		t.Fatalf("first request from second IP: status=%d, want 200", code)
	}
}
