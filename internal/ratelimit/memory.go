// Package ratelimit implements both admission layers that gate the
// analysis flow: fixed-window in-memory counters keyed by IP and email
// (this file) and the persisted per-user daily quota (daily.go). The
// in-memory state is intentionally lost on restart.
package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	sweepInterval = 60 * time.Second
	// burstWindow is how close together attempts must land to count as
	// one suspicious burst.
	burstWindow = 60 * time.Second
)

type window struct {
	count       int
	resetTime   time.Time
	lastRequest time.Time
}

type suspicious struct {
	attempts    int
	lastAttempt time.Time
	blocked     bool
}

// Result reports an admission decision together with the metadata the UI
// needs for its countdown display.
type Result struct {
	Allowed     bool
	Current     int
	Max         int
	Remaining   int
	ResetTime   time.Time
	Whitelisted bool
}

// BlockStatus reports the suspicious-tracker state for an IP.
type BlockStatus struct {
	Blocked      bool
	NeedsCaptcha bool
	BlockedUntil time.Time
}

// Stats is the aggregate snapshot served to the admin endpoint.
type Stats struct {
	IPWindows     int `json:"ipWindows"`
	EmailWindows  int `json:"emailWindows"`
	Suspicious    int `json:"suspicious"`
	BlockedIPs    int `json:"blockedIPs"`
	WhitelistSize int `json:"whitelistSize"`
}

// MemoryLimiterConfig carries the window sizes and escalation knobs.
type MemoryLimiterConfig struct {
	IPLimit             int
	IPWindow            time.Duration
	EmailLimit          int
	EmailWindow         time.Duration
	SuspiciousThreshold int
	BlockDuration       time.Duration
	Whitelist           []string
	// ExemptLoopback disables suspicious blocking for loopback callers;
	// enabled outside production.
	ExemptLoopback bool
}

// MemoryLimiter owns the per-process admission state. It is handed to
// the middleware and the admin handler by reference, never accessed as
// ambient global state.
type MemoryLimiter struct {
	mu         sync.Mutex
	ips        map[string]*window
	emails     map[string]*window
	suspicious map[string]*suspicious
	whitelist  map[string]struct{}
	cfg        MemoryLimiterConfig
	log        *slog.Logger
	now        func() time.Time
}

func NewMemoryLimiter(log *slog.Logger, cfg MemoryLimiterConfig) *MemoryLimiter {
	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, email := range cfg.Whitelist {
		wl[strings.ToLower(email)] = struct{}{}
	}

	return &MemoryLimiter{
		ips:        make(map[string]*window),
		emails:     make(map[string]*window),
		suspicious: make(map[string]*suspicious),
		whitelist:  wl,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// CheckIP evaluates the hourly per-IP window, counting the request.
func (l *MemoryLimiter) CheckIP(ip string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.check(l.ips, ip, l.cfg.IPLimit, l.cfg.IPWindow)
}

// CheckEmail evaluates the daily per-email window, counting the request.
// Whitelisted emails bypass counting entirely.
func (l *MemoryLimiter) CheckEmail(email string) Result {
	key := strings.ToLower(email)

	if l.IsWhitelisted(key) {
		return Result{
			Allowed:     true,
			Max:         l.cfg.EmailLimit,
			Remaining:   l.cfg.EmailLimit,
			Whitelisted: true,
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.check(l.emails, key, l.cfg.EmailLimit, l.cfg.EmailWindow)
}

// check implements the Unseen -> Active -> Exhausted machine. A window
// whose resetTime has passed is replaced outright, never carried over.
func (l *MemoryLimiter) check(windows map[string]*window, key string, limit int, size time.Duration) Result {
	now := l.now()

	w, ok := windows[key]
	if !ok || now.After(w.resetTime) {
		w = &window{
			count:       1,
			resetTime:   now.Add(size),
			lastRequest: now,
		}
		windows[key] = w
		return Result{
			Allowed:   true,
			Current:   1,
			Max:       limit,
			Remaining: limit - 1,
			ResetTime: w.resetTime,
		}
	}

	w.lastRequest = now

	if w.count < limit {
		w.count++
		return Result{
			Allowed:   true,
			Current:   w.count,
			Max:       limit,
			Remaining: limit - w.count,
			ResetTime: w.resetTime,
		}
	}

	return Result{
		Current:   w.count,
		Max:       limit,
		ResetTime: w.resetTime,
	}
}

func (l *MemoryLimiter) IsWhitelisted(email string) bool {
	_, ok := l.whitelist[strings.ToLower(email)]
	return ok
}

// RecordSuspicious registers a failed or unauthenticated attempt from an
// IP. Attempts landing within 60s of the previous one accumulate; an
// attempt outside the burst window restarts the count and clears any
// pending block flag.
func (l *MemoryLimiter) RecordSuspicious(ip string) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.suspicious[ip]
	if !ok {
		l.suspicious[ip] = &suspicious{attempts: 1, lastAttempt: now}
		return
	}

	if now.Sub(s.lastAttempt) <= burstWindow {
		s.attempts++
		if s.attempts >= 2*l.cfg.SuspiciousThreshold {
			if !s.blocked {
				l.log.Warn("ip blocked for suspicious activity",
					slog.String("ip", ip),
					slog.Int("attempts", s.attempts),
				)
			}
			s.blocked = true
		}
	} else {
		s.attempts = 1
		s.blocked = false
	}
	s.lastAttempt = now
}

// CheckBlocked reports whether an IP is currently blocked. A block
// expires BlockDuration after the last attempt, not after the block
// started; the captcha signal fires once attempts reach the threshold
// without yet tripping a block.
func (l *MemoryLimiter) CheckBlocked(ip string) BlockStatus {
	if l.cfg.ExemptLoopback && isLoopback(ip) {
		return BlockStatus{}
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.suspicious[ip]
	if !ok {
		return BlockStatus{}
	}

	if s.blocked {
		until := s.lastAttempt.Add(l.cfg.BlockDuration)
		if now.Before(until) {
			return BlockStatus{Blocked: true, BlockedUntil: until}
		}
		delete(l.suspicious, ip)
		return BlockStatus{}
	}

	if s.attempts >= l.cfg.SuspiciousThreshold {
		return BlockStatus{NeedsCaptcha: true}
	}

	return BlockStatus{}
}

// Unblock clears the suspicious record for one IP. Reports whether a
// record existed.
func (l *MemoryLimiter) Unblock(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.suspicious[ip]
	delete(l.suspicious, ip)
	return ok
}

// UnblockAll clears every suspicious record and returns the count.
func (l *MemoryLimiter) UnblockAll() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.suspicious)
	l.suspicious = make(map[string]*suspicious)
	return n
}

// Snapshot returns aggregate limiter stats.
func (l *MemoryLimiter) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	blocked := 0
	for _, s := range l.suspicious {
		if s.blocked {
			blocked++
		}
	}

	return Stats{
		IPWindows:     len(l.ips),
		EmailWindows:  len(l.emails),
		Suspicious:    len(l.suspicious),
		BlockedIPs:    blocked,
		WhitelistSize: len(l.whitelist),
	}
}

// Run sweeps expired windows and stale suspicious records until ctx is
// cancelled, bounding memory growth.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *MemoryLimiter) sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.ips {
		if now.After(w.resetTime) {
			delete(l.ips, key)
		}
	}
	for key, w := range l.emails {
		if now.After(w.resetTime) {
			delete(l.emails, key)
		}
	}
	for ip, s := range l.suspicious {
		if now.After(s.lastAttempt.Add(l.cfg.BlockDuration)) {
			delete(l.suspicious, ip)
		}
	}
}

func isLoopback(ip string) bool {
	switch ip {
	case "127.0.0.1", "::1", "localhost", "unknown":
		return true
	}
	return false
}
