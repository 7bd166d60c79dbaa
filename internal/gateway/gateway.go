// Package gateway forwards email-gated, quota-checked CV submissions to
// the external AI-scoring webhook.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	sl "recruitpro/internal/lib/logger"
	"recruitpro/internal/models"
	"recruitpro/internal/ratelimit"
)

// ErrUpstream marks a scoring-webhook transport failure or non-2xx
// answer. Quota is never consumed on this path.
var ErrUpstream = errors.New("scoring webhook failure")

// QuotaExceededError carries the quota detail the UI renders as a
// countdown.
type QuotaExceededError struct {
	Result ratelimit.QuotaResult
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily quota exceeded: %d/%d", e.Result.Current, e.Result.Max)
}

// Users resolves a session email to a persisted user. The gateway never
// creates users; that only happens during the verification flow.
type Users interface {
	UserByEmail(ctx context.Context, email string) (models.User, error)
}

// Quota is the persisted daily admission layer.
type Quota interface {
	Check(ctx context.Context, userID int64, email string) (ratelimit.QuotaResult, error)
	Increment(ctx context.Context, userID int64, email string) error
}

type Gateway struct {
	log        *slog.Logger
	users      Users
	quota      Quota
	webhookURL string
	client     *http.Client
}

func New(log *slog.Logger, users Users, quota Quota, webhookURL string, timeout time.Duration) *Gateway {
	return &Gateway{
		log:        log,
		users:      users,
		quota:      quota,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

// Analyze resolves the user, checks the persisted quota, streams the
// multipart payload to the scoring webhook and, only once the webhook
// confirmed success, consumes one unit of quota. An increment failure is
// logged but does not take back the already-delivered result.
func (g *Gateway) Analyze(ctx context.Context, email string, payload io.Reader, contentType string) ([]byte, error) {
	const op = "gateway.Analyze"

	log := g.log.With(slog.String("op", op))

	user, err := g.users.UserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	quotaRes, err := g.quota.Check(ctx, user.ID, email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !quotaRes.Allowed {
		return nil, &QuotaExceededError{Result: quotaRes}
	}

	result, err := g.forward(ctx, payload, contentType)
	if err != nil {
		log.Error("scoring webhook call failed", sl.Err(err))
		return nil, err
	}

	if err := g.quota.Increment(ctx, user.ID, email); err != nil {
		log.Error("failed to increment quota after successful analysis",
			slog.Int64("user_id", user.ID),
			sl.Err(err),
		)
	}

	log.Info("analysis delivered", slog.Int64("user_id", user.ID))

	return result, nil
}

func (g *Gateway) forward(ctx context.Context, payload io.Reader, contentType string) ([]byte, error) {
	const op = "gateway.forward"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.webhookURL, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, errors.Join(ErrUpstream, err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, errors.Join(ErrUpstream, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: status %d: %w", op, resp.StatusCode, ErrUpstream)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, errors.Join(ErrUpstream, err))
	}

	return body, nil
}
