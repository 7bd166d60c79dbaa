package rateLimit

import (
	"net/http"
	"time"

	httprate "github.com/go-chi/httprate"
)

// Outer per-route guards on the public verification endpoints. The
// admission logic proper lives in internal/ratelimit; these only blunt
// brute-force traffic before it reaches a handler.

func RequestCode() func(http.Handler) http.Handler {
	return limitByIP(3, time.Hour)
}

func VerifyCode() func(http.Handler) http.Handler {
	return limitByIP(10, 10*time.Minute)
}

func Session() func(http.Handler) http.Handler {
	return limitByIP(60, 10*time.Minute)
}

func Admin() func(http.Handler) http.Handler {
	return limitByIP(10, 10*time.Minute)
}

func limitByIP(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.LimitByIP(limit, window)
}
