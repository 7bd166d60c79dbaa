package admin_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"recruitpro/internal/http_server/handlers/admin"
	"recruitpro/internal/ratelimit"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

const adminPassword = "sesame-42"

func testHash(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func newBlockedLimiter(t *testing.T, ips ...string) *ratelimit.MemoryLimiter {
	t.Helper()
	l := ratelimit.NewMemoryLimiter(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		ratelimit.MemoryLimiterConfig{
			IPLimit:             5,
			IPWindow:            time.Hour,
			EmailLimit:          10,
			EmailWindow:         24 * time.Hour,
			SuspiciousThreshold: 3,
			BlockDuration:       time.Hour,
		},
	)
	for _, ip := range ips {
		for i := 0; i < 6; i++ {
			l.RecordSuspicious(ip)
		}
		if !l.CheckBlocked(ip).Blocked {
			t.Fatalf("setup: %s not blocked", ip)
		}
	}
	return l
}

func postUnblock(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/unblock", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestUnblock_WrongPasswordLeavesStateIntact(t *testing.T) {
	limiter := newBlockedLimiter(t, "9.9.9.9")
	h := admin.NewUnblock(discardLogger(), validator.New(), limiter, testHash(t))

	rec := postUnblock(t, h, `{"password":"wrong","clearAll":true}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if !limiter.CheckBlocked("9.9.9.9").Blocked {
		t.Fatal("block record cleared despite rejected password")
	}
}

func TestUnblock_SingleIP(t *testing.T) {
	limiter := newBlockedLimiter(t, "9.9.9.9", "8.8.8.8")
	h := admin.NewUnblock(discardLogger(), validator.New(), limiter, testHash(t))

	rec := postUnblock(t, h, `{"password":"`+adminPassword+`","ip":"9.9.9.9"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var resp admin.UnblockResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Cleared != 1 {
		t.Fatalf("cleared=%d, want 1", resp.Cleared)
	}
	if limiter.CheckBlocked("9.9.9.9").Blocked {
		t.Fatal("9.9.9.9 still blocked")
	}
	if !limiter.CheckBlocked("8.8.8.8").Blocked {
		t.Fatal("8.8.8.8 cleared but only 9.9.9.9 was requested")
	}
}

func TestUnblock_ClearAll(t *testing.T) {
	limiter := newBlockedLimiter(t, "9.9.9.9", "8.8.8.8")
	h := admin.NewUnblock(discardLogger(), validator.New(), limiter, testHash(t))

	rec := postUnblock(t, h, `{"password":"`+adminPassword+`","clearAll":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}

	var resp admin.UnblockResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Cleared != 2 {
		t.Fatalf("cleared=%d, want 2", resp.Cleared)
	}
}

func TestUnblock_NoTarget(t *testing.T) {
	limiter := newBlockedLimiter(t)
	h := admin.NewUnblock(discardLogger(), validator.New(), limiter, testHash(t))

	rec := postUnblock(t, h, `{"password":"`+adminPassword+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestStats(t *testing.T) {
	limiter := newBlockedLimiter(t, "9.9.9.9")
	h := admin.NewStats(discardLogger(), limiter, testHash(t))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/admin/stats?password=wrong", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: status=%d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/admin/stats?password="+adminPassword, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}

	var resp admin.StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Stats.BlockedIPs != 1 {
		t.Fatalf("blockedIPs=%d, want 1", resp.Stats.BlockedIPs)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
