package verification

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	redisrepo "recruitpro/internal/storage/redis"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCache(t *testing.T) *redisrepo.RedisRepo {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return redisrepo.NewFromClient(goredis.NewClient(&goredis.Options{Addr: s.Addr()}))
}

func TestDisposable_LocalBlocklist(t *testing.T) {
	c := NewDisposableChecker(discardLogger(), nil, "", time.Second, time.Hour)

	if !c.IsDisposable(context.Background(), "user@mailinator.com") {
		t.Fatalf("expected mailinator.com to be disposable")
	}
	if c.IsDisposable(context.Background(), "user@example.com") {
		t.Fatalf("expected example.com to be allowed without lookup URL")
	}
	if c.IsDisposable(context.Background(), "not-an-email") {
		t.Fatalf("malformed email should not be flagged")
	}
}

func TestDisposable_RemoteLookupAndCache(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if strings.HasSuffix(r.URL.Path, "/trash.example") {
			io.WriteString(w, `{"disposable":true}`)
			return
		}
		io.WriteString(w, `{"disposable":false}`)
	}))
	defer upstream.Close()

	c := NewDisposableChecker(discardLogger(), newCache(t), upstream.URL+"/v1/disposable/", time.Second, time.Hour)

	if !c.IsDisposable(context.Background(), "user@trash.example") {
		t.Fatalf("expected trash.example flagged disposable")
	}
	if c.IsDisposable(context.Background(), "user@clean.example") {
		t.Fatalf("expected clean.example allowed")
	}

	// Second round is served from cache.
	before := calls
	_ = c.IsDisposable(context.Background(), "user@trash.example")
	_ = c.IsDisposable(context.Background(), "user@clean.example")
	if calls != before {
		t.Fatalf("expected cached verdicts, upstream called %d more times", calls-before)
	}
}

func TestDisposable_LookupFailureFailsOpen(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	c := NewDisposableChecker(discardLogger(), newCache(t), upstream.URL+"/v1/disposable/", time.Second, time.Hour)

	if c.IsDisposable(context.Background(), "user@unknown.example") {
		t.Fatalf("lookup failure must fail open")
	}
}
