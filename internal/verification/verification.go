// Package verification holds the short-lived email verification codes.
// State lives in process memory only: a restart drops all outstanding
// codes, which simply forces users to request a new one.
package verification

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"
)

const sweepInterval = 60 * time.Second

type entry struct {
	code      string
	expiresAt time.Time
	attempts  int
}

// Result reports the outcome of a code check. An absent entry is reported
// as expired so callers cannot distinguish "never issued" from "expired".
type Result struct {
	Valid   bool
	Expired bool
}

// Store issues and checks one-time six-digit codes, at most one live code
// per (lowercased) email.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	log     *slog.Logger
	now     func() time.Time
}

func NewStore(log *slog.Logger, ttl time.Duration) *Store {
	return &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		log:     log,
		now:     time.Now,
	}
}

// IssueCode generates a uniformly random six-digit code and stores it,
// overwriting any outstanding code for the same email. Dispatching the
// code by mail is the caller's concern.
func (s *Store) IssueCode(email string) (string, error) {
	const op = "verification.IssueCode"

	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	key := normalize(email)

	s.mu.Lock()
	s.entries[key] = &entry{
		code:      code,
		expiresAt: s.now().Add(s.ttl),
	}
	s.mu.Unlock()

	return code, nil
}

// Verify checks a submitted code. A match consumes the entry (single
// use); expiry also consumes it. A mismatch increments the attempts
// counter but does not lock the email out.
func (s *Store) Verify(email, submittedCode string) Result {
	key := normalize(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Result{Expired: true}
	}

	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return Result{Expired: true}
	}

	if e.code == submittedCode {
		delete(s.entries, key)
		return Result{Valid: true}
	}

	e.attempts++

	return Result{}
}

// Attempts reports the wrong-guess count for an outstanding code, 0 when
// no entry exists.
func (s *Store) Attempts(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[normalize(email)]; ok {
		return e.attempts
	}
	return 0
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run sweeps expired entries until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged := s.sweep(); purged > 0 {
				s.log.Debug("purged expired verification codes", slog.Int("count", purged))
			}
		}
	}
}

func (s *Store) sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
			purged++
		}
	}

	return purged
}

func generateCode() (string, error) {
	// Uniform over 100000..999999.
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
