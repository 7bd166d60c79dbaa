package verifyCode

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
	"recruitpro/internal/ratelimit"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

type Response struct {
	resp.Response
	Verified bool `json:"verified,omitempty"`
}

// New builds the code-check handler. A successful check sets the signed
// session cookie; a failed one feeds the IP-level suspicious tracker.
func New(
	log *slog.Logger,
	validate *validator.Validate,
	authService *auth.Auth,
	limiter *ratelimit.MemoryLimiter,
	cookieName string,
	secureCookie bool,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.verifyCode.New"

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

			log.Error("invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		sessionToken, err := authService.VerifyCode(ctx, req.Email, req.Code)
		if err != nil {
			limiter.RecordSuspicious(access.ClientIP(r))

			switch {
			case errors.Is(err, auth.ErrCodeExpired):
				log.Warn("expired code submitted")

				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Code expired, request a new one"))
			case errors.Is(err, auth.ErrInvalidCode):
				log.Warn("invalid code submitted")

				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Invalid verification code"))
			default:
				log.Error("failed to verify code", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     cookieName,
			Value:    sessionToken,
			Path:     "/",
			MaxAge:   int(authService.SessionTTL().Seconds()),
			HttpOnly: true,
			Secure:   secureCookie,
			SameSite: http.SameSiteStrictMode,
		})

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Verified: true,
		})
	}
}
