package ratelimit

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testConfig() MemoryLimiterConfig {
	return MemoryLimiterConfig{
		IPLimit:             5,
		IPWindow:            time.Hour,
		EmailLimit:          10,
		EmailWindow:         24 * time.Hour,
		SuspiciousThreshold: 3,
		BlockDuration:       time.Hour,
		Whitelist:           []string{"vip@example.com"},
	}
}

func newTestLimiter(t *testing.T, cfg MemoryLimiterConfig) (*MemoryLimiter, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestMemoryLimiter_IPWindow(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 1; i <= 5; i++ {
		res := l.CheckIP("1.2.3.4")
		if !res.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
		if res.Remaining != 5-i {
			t.Fatalf("request %d: remaining=%d, want %d", i, res.Remaining, 5-i)
		}
	}

	res := l.CheckIP("1.2.3.4")
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("6th request: expected denied with remaining=0, got %+v", res)
	}
	if res.Current != 5 || res.Max != 5 {
		t.Fatalf("deny metadata: %+v", res)
	}

	// A different IP has its own window.
	if res := l.CheckIP("5.6.7.8"); !res.Allowed {
		t.Fatalf("independent key denied: %+v", res)
	}
}

func TestMemoryLimiter_WindowHardReset(t *testing.T) {
	l, now := newTestLimiter(t, testConfig())

	for i := 0; i < 6; i++ {
		l.CheckIP("1.2.3.4")
	}

	*now = now.Add(time.Hour + time.Second)

	res := l.CheckIP("1.2.3.4")
	if !res.Allowed || res.Remaining != 4 {
		t.Fatalf("after rollover: expected allowed with remaining=4, got %+v", res)
	}
	if !res.ResetTime.Equal(now.Add(time.Hour)) {
		t.Fatalf("rollover must start a fresh window, resetTime=%v", res.ResetTime)
	}
}

func TestMemoryLimiter_EmailWhitelist(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 50; i++ {
		res := l.CheckEmail("VIP@example.com")
		if !res.Allowed || !res.Whitelisted {
			t.Fatalf("whitelisted email denied on call %d: %+v", i, res)
		}
	}

	// Whitelist never consumes a window.
	if l.Snapshot().EmailWindows != 0 {
		t.Fatalf("whitelisted email must not be counted")
	}
}

func TestMemoryLimiter_EmailWindow(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 10; i++ {
		if res := l.CheckEmail("user@example.com"); !res.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}
	if res := l.CheckEmail("user@example.com"); res.Allowed {
		t.Fatalf("11th request should be denied")
	}
}

func TestMemoryLimiter_SuspiciousEscalation(t *testing.T) {
	l, now := newTestLimiter(t, testConfig())

	// Threshold 3: captcha at 3 rapid attempts, block at 6.
	for i := 0; i < 3; i++ {
		l.RecordSuspicious("9.9.9.9")
		*now = now.Add(time.Second)
	}
	st := l.CheckBlocked("9.9.9.9")
	if st.Blocked || !st.NeedsCaptcha {
		t.Fatalf("after 3 attempts: expected captcha signal, got %+v", st)
	}

	for i := 0; i < 3; i++ {
		l.RecordSuspicious("9.9.9.9")
		*now = now.Add(time.Second)
	}
	st = l.CheckBlocked("9.9.9.9")
	if !st.Blocked {
		t.Fatalf("after 6 rapid attempts: expected blocked, got %+v", st)
	}
}

func TestMemoryLimiter_BlockExpiresFromLastAttempt(t *testing.T) {
	l, now := newTestLimiter(t, testConfig())

	for i := 0; i < 6; i++ {
		l.RecordSuspicious("9.9.9.9")
	}
	if !l.CheckBlocked("9.9.9.9").Blocked {
		t.Fatalf("expected blocked")
	}

	*now = now.Add(time.Hour + time.Second)

	st := l.CheckBlocked("9.9.9.9")
	if st.Blocked {
		t.Fatalf("block should auto-expire, got %+v", st)
	}
	// The record was cleared, not just flagged off.
	if l.Snapshot().Suspicious != 0 {
		t.Fatalf("expired block should remove the record")
	}
}

func TestMemoryLimiter_SlowAttemptsReset(t *testing.T) {
	l, now := newTestLimiter(t, testConfig())

	for i := 0; i < 5; i++ {
		l.RecordSuspicious("9.9.9.9")
		*now = now.Add(2 * time.Minute)
	}

	st := l.CheckBlocked("9.9.9.9")
	if st.Blocked || st.NeedsCaptcha {
		t.Fatalf("spaced-out attempts must not escalate, got %+v", st)
	}
}

func TestMemoryLimiter_LoopbackExemption(t *testing.T) {
	cfg := testConfig()
	cfg.ExemptLoopback = true
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 10; i++ {
		l.RecordSuspicious("127.0.0.1")
	}
	if st := l.CheckBlocked("127.0.0.1"); st.Blocked || st.NeedsCaptcha {
		t.Fatalf("loopback must be exempt in non-production, got %+v", st)
	}
}

func TestMemoryLimiter_UnblockAndStats(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 6; i++ {
		l.RecordSuspicious("9.9.9.9")
	}
	l.RecordSuspicious("8.8.8.8")
	l.CheckIP("1.2.3.4")
	l.CheckEmail("user@example.com")

	stats := l.Snapshot()
	if stats.Suspicious != 2 || stats.BlockedIPs != 1 || stats.IPWindows != 1 || stats.EmailWindows != 1 {
		t.Fatalf("stats: %+v", stats)
	}

	if !l.Unblock("9.9.9.9") {
		t.Fatalf("expected unblock to find a record")
	}
	if l.CheckBlocked("9.9.9.9").Blocked {
		t.Fatalf("still blocked after unblock")
	}
	if n := l.UnblockAll(); n != 1 {
		t.Fatalf("expected 1 remaining record cleared, got %d", n)
	}
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	l, now := newTestLimiter(t, testConfig())

	l.CheckIP("1.2.3.4")
	l.CheckEmail("user@example.com")
	l.RecordSuspicious("9.9.9.9")

	*now = now.Add(25 * time.Hour)
	l.sweep()

	stats := l.Snapshot()
	if stats.IPWindows != 0 || stats.EmailWindows != 0 || stats.Suspicious != 0 {
		t.Fatalf("sweep left state behind: %+v", stats)
	}
}
