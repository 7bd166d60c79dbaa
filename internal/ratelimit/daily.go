package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	sl "recruitpro/internal/lib/logger"
	"recruitpro/internal/models"
	"recruitpro/internal/storage"
)

// QuotaStore is the persistence the daily quota needs; the Postgres repo
// satisfies it.
type QuotaStore interface {
	RateLimit(ctx context.Context, userID int64) (models.RateLimitRecord, error)
	CreateRateLimit(ctx context.Context, userID int64) (models.RateLimitRecord, error)
	UpdateRateLimit(ctx context.Context, rec models.RateLimitRecord) error
}

// QuotaResult mirrors Result for the persisted layer.
type QuotaResult struct {
	Allowed     bool      `json:"allowed"`
	Current     int       `json:"current"`
	Max         int       `json:"max"`
	Remaining   int       `json:"remaining"`
	ResetTime   time.Time `json:"resetTime"`
	Whitelisted bool      `json:"whitelisted,omitempty"`
}

// DailyQuota enforces the per-user analysis quota persisted in the
// database, surviving process restarts. The counter resets lazily on the
// first check after a UTC day rollover. Access to a given user's record
// is serialized through a per-user mutex so the read-increment-write
// cannot race within this process.
type DailyQuota struct {
	store     QuotaStore
	limit     int
	whitelist map[string]struct{}
	log       *slog.Logger
	now       func() time.Time

	userLocks sync.Map // userID -> *sync.Mutex
}

func NewDailyQuota(log *slog.Logger, store QuotaStore, limit int, whitelist []string) *DailyQuota {
	wl := make(map[string]struct{}, len(whitelist))
	for _, email := range whitelist {
		wl[strings.ToLower(email)] = struct{}{}
	}

	return &DailyQuota{
		store:     store,
		limit:     limit,
		whitelist: wl,
		log:       log,
		now:       time.Now,
	}
}

// Check evaluates the quota without consuming it.
func (q *DailyQuota) Check(ctx context.Context, userID int64, email string) (QuotaResult, error) {
	const op = "ratelimit.DailyQuota.Check"

	if q.isWhitelisted(email) {
		return QuotaResult{
			Allowed:     true,
			Max:         q.limit,
			Remaining:   q.limit,
			ResetTime:   q.nextMidnight(),
			Whitelisted: true,
		}, nil
	}

	unlock := q.lockUser(userID)
	defer unlock()

	rec, err := q.fetchCurrent(ctx, userID)
	if err != nil {
		return QuotaResult{}, fmt.Errorf("%s: %w", op, err)
	}

	remaining := q.limit - rec.DailyCount
	if remaining < 0 {
		remaining = 0
	}

	return QuotaResult{
		Allowed:   rec.DailyCount < q.limit,
		Current:   rec.DailyCount,
		Max:       q.limit,
		Remaining: remaining,
		ResetTime: q.nextMidnight(),
	}, nil
}

// Increment consumes one unit of quota. Callers must only invoke it
// after the gated operation has confirmed success, so a failed analysis
// never burns quota.
func (q *DailyQuota) Increment(ctx context.Context, userID int64, email string) error {
	const op = "ratelimit.DailyQuota.Increment"

	if q.isWhitelisted(email) {
		return nil
	}

	unlock := q.lockUser(userID)
	defer unlock()

	rec, err := q.fetchCurrent(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	now := q.now()
	rec.DailyCount++
	rec.LastAnalysis = &now

	if err := q.store.UpdateRateLimit(ctx, rec); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	q.log.Info("daily quota incremented",
		slog.Int64("user_id", userID),
		slog.Int("daily_count", rec.DailyCount),
	)

	return nil
}

// fetchCurrent loads (or lazily creates) the record and applies the
// day-rollover reset before anyone reads the count. Callers hold the
// user lock.
func (q *DailyQuota) fetchCurrent(ctx context.Context, userID int64) (models.RateLimitRecord, error) {
	rec, err := q.store.RateLimit(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrRateLimitNotFound) {
			return models.RateLimitRecord{}, err
		}
		rec, err = q.store.CreateRateLimit(ctx, userID)
		if err != nil {
			return models.RateLimitRecord{}, err
		}
	}

	today := q.now().UTC().Truncate(24 * time.Hour)
	if !rec.LastReset.UTC().Truncate(24 * time.Hour).Equal(today) {
		rec.DailyCount = 0
		rec.LastReset = today
		if err := q.store.UpdateRateLimit(ctx, rec); err != nil {
			q.log.Error("failed to persist daily reset", slog.Int64("user_id", userID), sl.Err(err))
		}
	}

	return rec, nil
}

func (q *DailyQuota) lockUser(userID int64) func() {
	v, _ := q.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (q *DailyQuota) isWhitelisted(email string) bool {
	_, ok := q.whitelist[strings.ToLower(email)]
	return ok
}

func (q *DailyQuota) nextMidnight() time.Time {
	return q.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}
