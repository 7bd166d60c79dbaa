package analyze

import (
	"errors"
	"log/slog"
	"net/http"

	"recruitpro/internal/access"
	"recruitpro/internal/auth"
	"recruitpro/internal/gateway"
	resp "recruitpro/internal/lib/api/response"
	sl "recruitpro/internal/lib/logger"
	"recruitpro/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type quotaErrorResponse struct {
	Allowed   bool   `json:"allowed"`
	Current   int    `json:"current"`
	Max       int    `json:"max"`
	Remaining int    `json:"remaining"`
	ResetTime string `json:"resetTime"`
	Error     string `json:"error"`
}

// New builds the gated CV submission endpoint. The payload cap is
// enforced before any body read so oversized uploads cost nothing.
func New(
	log *slog.Logger,
	authService *auth.Auth,
	gw *gateway.Gateway,
	maxUploadBytes int64,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.analyze.New"

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

		if r.ContentLength > maxUploadBytes {
			render.Status(r, http.StatusRequestEntityTooLarge)
			render.JSON(w, r, resp.Error("Payload too large"))

			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

		result, err := gw.Analyze(r.Context(), claims.Email, r.Body, r.Header.Get("Content-Type"))
		if err != nil {
			var qerr *gateway.QuotaExceededError

			switch {
			case errors.Is(err, storage.ErrUserNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("Unknown user"))
			case errors.As(err, &qerr):
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, quotaErrorResponse{
					Allowed:   false,
					Current:   qerr.Result.Current,
					Max:       qerr.Result.Max,
					Remaining: qerr.Result.Remaining,
					ResetTime: qerr.Result.ResetTime.String(),
					Error:     "Daily analysis limit reached",
				})
			case errors.Is(err, gateway.ErrUpstream):
				log.Error("analysis upstream failed", sl.Err(err))

				render.Status(r, http.StatusBadGateway)
				render.JSON(w, r, resp.Error("Analysis service unavailable"))
			default:
				log.Error("analysis failed", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(result)
	}
}
