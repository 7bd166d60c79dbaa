// Package access implements request admission for the protected routes:
// suspicious-IP blocking, session verification and the in-memory
// IP/email windows, composed into one middleware decision.
package access

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"recruitpro/internal/lib/token"
	"recruitpro/internal/ratelimit"
)

// Deny reasons surfaced to the front end as a query parameter.
const (
	ReasonBlocked         = "blocked"
	ReasonAuthRequired    = "auth-required"
	ReasonSessionExpired  = "session-expired"
	ReasonIPLimit         = "ip-limit"
	ReasonEmailLimit      = "email-limit"
	ReasonCaptchaRequired = "captcha-required"
)

type Middleware struct {
	log          *slog.Logger
	limiter      *ratelimit.MemoryLimiter
	codec        *token.Codec
	cookieName   string
	redirectURL  string
	secureCookie bool
}

func New(
	log *slog.Logger,
	limiter *ratelimit.MemoryLimiter,
	codec *token.Codec,
	cookieName string,
	redirectURL string,
	secureCookie bool,
) *Middleware {
	return &Middleware{
		log:          log,
		limiter:      limiter,
		codec:        codec,
		cookieName:   cookieName,
		redirectURL:  redirectURL,
		secureCookie: secureCookie,
	}
}

// Handler evaluates the admission state machine for each request. Every
// branch resolves to an explicit allow or deny; nothing is thrown past
// this boundary.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)

		status := m.limiter.CheckBlocked(ip)
		if status.Blocked {
			m.logDecision(ip, r.URL.Path, ReasonBlocked, "")
			m.deny(w, r, ReasonBlocked)
			return
		}

		cookie, err := r.Cookie(m.cookieName)
		if err != nil || cookie.Value == "" {
			m.limiter.RecordSuspicious(ip)
			m.logDecision(ip, r.URL.Path, ReasonAuthRequired, "")
			m.deny(w, r, ReasonAuthRequired)
			return
		}

		claims, err := m.codec.Decode(cookie.Value)
		if err != nil || !claims.Verified {
			m.limiter.RecordSuspicious(ip)
			m.clearCookie(w)
			m.logDecision(ip, r.URL.Path, ReasonSessionExpired, "")
			m.deny(w, r, ReasonSessionExpired)
			return
		}

		if m.limiter.IsWhitelisted(claims.Email) {
			m.logDecision(ip, r.URL.Path, "allowed-whitelist", claims.Email)
			next.ServeHTTP(w, r)
			return
		}

		ipRes := m.limiter.CheckIP(ip)
		if !ipRes.Allowed {
			m.logDecision(ip, r.URL.Path, ReasonIPLimit, claims.Email)
			m.denyLimited(w, r, ReasonIPLimit, "ip", ipRes)
			return
		}

		emailRes := m.limiter.CheckEmail(claims.Email)
		if !emailRes.Allowed {
			m.logDecision(ip, r.URL.Path, ReasonEmailLimit, claims.Email)
			m.denyLimited(w, r, ReasonEmailLimit, "email", emailRes)
			return
		}

		if status.NeedsCaptcha {
			m.logDecision(ip, r.URL.Path, ReasonCaptchaRequired, claims.Email)
			m.deny(w, r, ReasonCaptchaRequired)
			return
		}

		w.Header().Set("X-RateLimit-Remaining-IP", fmt.Sprintf("%d", ipRes.Remaining))
		w.Header().Set("X-RateLimit-Remaining-Email", fmt.Sprintf("%d", emailRes.Remaining))

		m.logDecision(ip, r.URL.Path, "allowed", claims.Email)
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) deny(w http.ResponseWriter, r *http.Request, reason string) {
	target := m.redirectURL
	if strings.Contains(target, "?") {
		target += "&error=" + url.QueryEscape(reason)
	} else {
		target += "?error=" + url.QueryEscape(reason)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (m *Middleware) denyLimited(w http.ResponseWriter, r *http.Request, reason, limitType string, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Type", limitType)
	w.Header().Set("X-RateLimit-Current", fmt.Sprintf("%d", res.Current))
	w.Header().Set("X-RateLimit-Max", fmt.Sprintf("%d", res.Max))
	w.Header().Set("X-RateLimit-Reset", res.ResetTime.UTC().Format(time.RFC3339))
	m.deny(w, r, reason)
}

func (m *Middleware) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

// logDecision writes the structured access record. It is fire-and-forget
// observability and must never fail the request.
func (m *Middleware) logDecision(ip, path, status, email string) {
	attrs := []any{
		slog.Time("timestamp", time.Now()),
		slog.String("ip", ip),
		slog.String("path", path),
		slog.String("status", status),
	}
	if email != "" {
		attrs = append(attrs, slog.String("email", email))
	}
	m.log.Info("access decision", attrs...)
}

// BearerToken extracts the token from an Authorization: Bearer header,
// empty when absent or malformed.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ClientIP extracts the caller's address from proxy headers: the first
// X-Forwarded-For entry, then X-Real-IP, then "unknown".
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			fwd = fwd[:idx]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return "unknown"
}
