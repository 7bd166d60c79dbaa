package session

import (
	"log/slog"
	"net/http"

	"recruitpro/internal/auth"
	resp "recruitpro/internal/lib/api/response"
	sl "recruitpro/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	Valid      bool   `json:"valid"`
	Email      string `json:"email,omitempty"`
	Verified   bool   `json:"verified,omitempty"`
	VerifiedAt int64  `json:"verifiedAt,omitempty"`
}

// New builds the session introspection handler used by the front end to
// decide whether to show the upload flow.
func New(
	log *slog.Logger,
	authService *auth.Auth,
	cookieName string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.session.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		cookie, err := r.Cookie(cookieName)
		if err != nil || cookie.Value == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, Response{Response: resp.Error("No session"), Valid: false})

			return
		}

		claims, err := authService.ValidateSession(cookie.Value)
		if err != nil {
			log.Warn("session validation failed", sl.Err(err))

			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, Response{Response: resp.Error("Invalid session"), Valid: false})

			return
		}

		render.JSON(w, r, Response{
			Response:   resp.OK(),
			Valid:      true,
			Email:      claims.Email,
			Verified:   claims.Verified,
			VerifiedAt: claims.VerifiedAt,
		})
	}
}
