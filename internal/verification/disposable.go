package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	sl "recruitpro/internal/lib/logger"
)

// localBlocklist covers the throwaway providers seen most often in
// sign-ups; the remote lookup handles the long tail.
var localBlocklist = map[string]struct{}{
	"mailinator.com":     {},
	"guerrillamail.com":  {},
	"10minutemail.com":   {},
	"tempmail.com":       {},
	"temp-mail.org":      {},
	"yopmail.com":        {},
	"throwawaymail.com":  {},
	"getnada.com":        {},
	"maildrop.cc":        {},
	"trashmail.com":      {},
	"fakeinbox.com":      {},
	"sharklasers.com":    {},
	"dispostable.com":    {},
	"mintemail.com":      {},
	"spamgourmet.com":    {},
	"mail-temporaire.fr": {},
	"jetable.org":        {},
}

// DisposableCache is the persistence the checker needs; the Redis repo
// satisfies it.
type DisposableCache interface {
	GetDisposable(ctx context.Context, domain string) (known bool, disposable bool, err error)
	SetDisposable(ctx context.Context, domain string, disposable bool, ttl time.Duration) error
}

// DisposableChecker decides whether an email belongs to a throwaway
// provider: local blocklist first, then a cached remote lookup. Lookup
// failures fail open.
type DisposableChecker struct {
	log       *slog.Logger
	cache     DisposableCache
	lookupURL string
	cacheTTL  time.Duration
	client    *http.Client
}

func NewDisposableChecker(
	log *slog.Logger,
	cache DisposableCache,
	lookupURL string,
	timeout time.Duration,
	cacheTTL time.Duration,
) *DisposableChecker {
	return &DisposableChecker{
		log:       log,
		cache:     cache,
		lookupURL: lookupURL,
		cacheTTL:  cacheTTL,
		client:    &http.Client{Timeout: timeout},
	}
}

// IsDisposable reports whether the email's domain is a known disposable
// provider.
func (c *DisposableChecker) IsDisposable(ctx context.Context, email string) bool {
	const op = "verification.IsDisposable"

	log := c.log.With(slog.String("op", op))

	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.ToLower(email[at+1:])

	if _, ok := localBlocklist[domain]; ok {
		return true
	}

	if c.lookupURL == "" {
		return false
	}

	if c.cache != nil {
		known, disposable, err := c.cache.GetDisposable(ctx, domain)
		if err != nil {
			log.Warn("disposable cache read failed", sl.Err(err))
		} else if known {
			return disposable
		}
	}

	disposable, err := c.lookup(ctx, domain)
	if err != nil {
		log.Warn("disposable lookup failed, allowing domain", slog.String("domain", domain), sl.Err(err))
		return false
	}

	if c.cache != nil {
		if err := c.cache.SetDisposable(ctx, domain, disposable, c.cacheTTL); err != nil {
			log.Warn("disposable cache write failed", sl.Err(err))
		}
	}

	return disposable
}

func (c *DisposableChecker) lookup(ctx context.Context, domain string) (bool, error) {
	const op = "verification.lookup"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.lookupURL+url.PathEscape(domain), nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	var body struct {
		Disposable bool `json:"disposable"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return body.Disposable, nil
}
