package increment

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"recruitpro/internal/auth"
	resp "recruitpro/internal/lib/api/response"
	sl "recruitpro/internal/lib/logger"
	"recruitpro/internal/models"
	"recruitpro/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Users interface {
	UserByEmail(ctx context.Context, email string) (models.User, error)
}

type Quota interface {
	Increment(ctx context.Context, userID int64, email string) error
}

type Request struct {
	Token string `json:"token" validate:"required"`
}

type Response struct {
	resp.Response
	UserID int64  `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
}

// New builds the post-analysis counter increment endpoint, called by
// collaborators that run the analysis outside the gateway path.
func New(
	log *slog.Logger,
	validate *validator.Validate,
	authService *auth.Auth,
	users Users,
	quota Quota,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.increment.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		claims, err := authService.ValidateSession(req.Token)
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

		if err := quota.Increment(ctx, user.ID, claims.Email); err != nil {
			log.Error("failed to increment counters", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			UserID:   user.ID,
			Email:    user.Email,
		})
	}
}
