package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"recruitpro/internal/models"
	"recruitpro/internal/storage"
)

// fakeQuotaStore keeps records in a map and counts calls so tests can
// assert on interaction, not just state.
type fakeQuotaStore struct {
	records   map[int64]models.RateLimitRecord
	createErr error
	updateErr error
	updates   int
	creations int
}

func newFakeQuotaStore() *fakeQuotaStore {
	return &fakeQuotaStore{records: make(map[int64]models.RateLimitRecord)}
}

func (f *fakeQuotaStore) RateLimit(_ context.Context, userID int64) (models.RateLimitRecord, error) {
	rec, ok := f.records[userID]
	if !ok {
		return models.RateLimitRecord{}, storage.ErrRateLimitNotFound
	}
	return rec, nil
}

func (f *fakeQuotaStore) CreateRateLimit(_ context.Context, userID int64) (models.RateLimitRecord, error) {
	if f.createErr != nil {
		return models.RateLimitRecord{}, f.createErr
	}
	f.creations++
	rec := models.RateLimitRecord{UserID: userID, LastReset: time.Now().UTC().Truncate(24 * time.Hour)}
	f.records[userID] = rec
	return rec, nil
}

func (f *fakeQuotaStore) UpdateRateLimit(_ context.Context, rec models.RateLimitRecord) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates++
	f.records[rec.UserID] = rec
	return nil
}

func newTestQuota(t *testing.T, store QuotaStore, whitelist []string) (*DailyQuota, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q := NewDailyQuota(slog.New(slog.NewTextHandler(io.Discard, nil)), store, 3, whitelist)
	q.now = func() time.Time { return now }
	return q, &now
}

func TestDailyQuota_LimitOfThree(t *testing.T) {
	store := newFakeQuotaStore()
	q, _ := newTestQuota(t, store, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := q.Check(ctx, 1, "user@example.com")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("check %d: expected allowed, got %+v", i, res)
		}
		if err := q.Increment(ctx, 1, "user@example.com"); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}

	res, err := q.Check(ctx, 1, "user@example.com")
	if err != nil {
		t.Fatalf("final check: %v", err)
	}
	if res.Allowed || res.Current != 3 || res.Max != 3 || res.Remaining != 0 {
		t.Fatalf("expected exhausted quota, got %+v", res)
	}
}

func TestDailyQuota_LazyCreation(t *testing.T) {
	store := newFakeQuotaStore()
	q, _ := newTestQuota(t, store, nil)

	if _, err := q.Check(context.Background(), 7, "user@example.com"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if store.creations != 1 {
		t.Fatalf("expected lazy record creation, creations=%d", store.creations)
	}
	if _, err := q.Check(context.Background(), 7, "user@example.com"); err != nil {
		t.Fatalf("second check: %v", err)
	}
	if store.creations != 1 {
		t.Fatalf("record recreated, creations=%d", store.creations)
	}
}

func TestDailyQuota_DayRollover(t *testing.T) {
	store := newFakeQuotaStore()
	q, now := newTestQuota(t, store, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Increment(ctx, 1, "user@example.com"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if res, _ := q.Check(ctx, 1, "user@example.com"); res.Allowed {
		t.Fatalf("quota should be exhausted")
	}

	*now = time.Date(2025, 6, 2, 0, 0, 1, 0, time.UTC)

	res, err := q.Check(ctx, 1, "user@example.com")
	if err != nil {
		t.Fatalf("check after rollover: %v", err)
	}
	if !res.Allowed || res.Current != 0 {
		t.Fatalf("expected reset quota, got %+v", res)
	}
	if !res.ResetTime.Equal(time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("resetTime should be next UTC midnight, got %v", res.ResetTime)
	}
}

func TestDailyQuota_WhitelistBypass(t *testing.T) {
	store := newFakeQuotaStore()
	q, _ := newTestQuota(t, store, []string{"VIP@example.com"})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := q.Check(ctx, 1, "vip@example.com")
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if !res.Allowed || !res.Whitelisted {
			t.Fatalf("whitelisted denied: %+v", res)
		}
		if err := q.Increment(ctx, 1, "vip@example.com"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	// Whitelisted traffic never touches the store.
	if store.creations != 0 || store.updates != 0 {
		t.Fatalf("whitelist should bypass persistence, creations=%d updates=%d", store.creations, store.updates)
	}
}

func TestDailyQuota_StoreErrorPropagates(t *testing.T) {
	store := newFakeQuotaStore()
	store.createErr = errors.New("db down")
	q, _ := newTestQuota(t, store, nil)

	if _, err := q.Check(context.Background(), 1, "user@example.com"); err == nil {
		t.Fatalf("expected store error to propagate")
	}
}

func TestDailyQuota_IncrementRecordsLastAnalysis(t *testing.T) {
	store := newFakeQuotaStore()
	q, now := newTestQuota(t, store, nil)

	if err := q.Increment(context.Background(), 1, "user@example.com"); err != nil {
		t.Fatalf("increment: %v", err)
	}

	rec := store.records[1]
	if rec.DailyCount != 1 {
		t.Fatalf("daily_count=%d", rec.DailyCount)
	}
	if rec.LastAnalysis == nil || !rec.LastAnalysis.Equal(*now) {
		t.Fatalf("last_analysis not set: %+v", rec.LastAnalysis)
	}
}
