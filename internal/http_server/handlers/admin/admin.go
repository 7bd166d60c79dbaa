package admin

import (
	"log/slog"
	"net/http"

	resp "recruitpro/internal/lib/api/response"
	sl "recruitpro/internal/lib/logger"
	"recruitpro/internal/ratelimit"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

type UnblockRequest struct {
	Password string `json:"password" validate:"required"`
	IP       string `json:"ip,omitempty"`
	ClearAll bool   `json:"clearAll,omitempty"`
}

type UnblockResponse struct {
	resp.Response
	Cleared int `json:"cleared"`
}

type StatsResponse struct {
	resp.Response
	Stats ratelimit.Stats `json:"stats"`
}

// NewUnblock clears one or all suspicious-IP records. The password check
// runs before any limiter state is touched.
func NewUnblock(
	log *slog.Logger,
	validate *validator.Validate,
	limiter *ratelimit.MemoryLimiter,
	passwordHash string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.admin.NewUnblock"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req UnblockRequest

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

		if !passwordMatches(passwordHash, req.Password) {
			log.Warn("admin password mismatch")

			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Unauthorized"))

			return
		}

		cleared := 0
		switch {
		case req.ClearAll:
			cleared = limiter.UnblockAll()
		case req.IP != "":
			if limiter.Unblock(req.IP) {
				cleared = 1
			}
		default:
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Provide ip or clearAll"))

			return
		}

		log.Info("suspicious records cleared", slog.Int("count", cleared))

		render.JSON(w, r, UnblockResponse{
			Response: resp.OK(),
			Cleared:  cleared,
		})
	}
}

// NewStats serves the aggregate limiter snapshot; the password arrives
// as a query parameter on this GET variant.
func NewStats(
	log *slog.Logger,
	limiter *ratelimit.MemoryLimiter,
	passwordHash string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.admin.NewStats"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if !passwordMatches(passwordHash, r.URL.Query().Get("password")) {
			log.Warn("admin password mismatch")

			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Unauthorized"))

			return
		}

		render.JSON(w, r, StatsResponse{
			Response: resp.OK(),
			Stats:    limiter.Snapshot(),
		})
	}
}

func passwordMatches(hash, password string) bool {
	if password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
