package admission

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"recruitpro/internal/access"
	"recruitpro/internal/auth"
	resp "recruitpro/internal/lib/api/response"
	sl "recruitpro/internal/lib/logger"
	"recruitpro/internal/models"
	"recruitpro/internal/ratelimit"
	"recruitpro/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// Users resolves the bearer's email to a persisted user.
type Users interface {
	UserByEmail(ctx context.Context, email string) (models.User, error)
}

// Quota is the persisted daily admission layer.
type Quota interface {
	Check(ctx context.Context, userID int64, email string) (ratelimit.QuotaResult, error)
}

type Response struct {
	ratelimit.QuotaResult
	Error string `json:"error,omitempty"`
}

// New builds the pre-analysis admission check the front end polls before
// enabling the upload button.
func New(
	log *slog.Logger,
	authService *auth.Auth,
	users Users,
	quota Quota,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.admission.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		bearer := access.BearerToken(r)
		if bearer == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Missing bearer token"))

			return
		}

		claims, err := authService.ValidateSession(bearer)
		if err != nil || !claims.Verified {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Invalid session"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		user, err := users.UserByEmail(ctx, claims.Email)
		if err != nil {
			if errors.Is(err, storage.ErrUserNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("Unknown user"))

				return
			}

			log.Error("failed to resolve user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		quotaRes, err := quota.Check(ctx, user.ID, claims.Email)
		if err != nil {
			log.Error("quota check failed", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		if !quotaRes.Allowed {
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, Response{
				QuotaResult: quotaRes,
				Error:       "Daily analysis limit reached",
			})

			return
		}

		render.JSON(w, r, Response{QuotaResult: quotaRes})
	}
}
