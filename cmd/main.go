package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recruitpro/internal/access"
	"recruitpro/internal/auth"
	"recruitpro/internal/config"
	"recruitpro/internal/gateway"
	adminHandler "recruitpro/internal/http_server/handlers/admin"
	"recruitpro/internal/http_server/handlers/admission"
	"recruitpro/internal/http_server/handlers/analyze"
	"recruitpro/internal/http_server/handlers/increment"
	requestCode "recruitpro/internal/http_server/handlers/request_code"
	sessionHandler "recruitpro/internal/http_server/handlers/session"
	verifyCode "recruitpro/internal/http_server/handlers/verify_code"
	sl "recruitpro/internal/lib/logger"
	"recruitpro/internal/lib/token"
	"recruitpro/internal/mailer"
	rateLimitMw "recruitpro/internal/middleware/ratelimit"
	"recruitpro/internal/rabbitmq"
	"recruitpro/internal/ratelimit"
	"recruitpro/internal/storage/postgres"
	redisrepo "recruitpro/internal/storage/redis"
	"recruitpro/internal/verification"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := setupLogger(cfg.Env)

	log.Info("starting recruitpro access core", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("shutdown signal received")
		cancel()
	}()

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", sl.Err(err))
		os.Exit(1)
	}
	defer storage.Close()

	sender, senderCleanup, err := setupSender(cfg)
	if err != nil {
		log.Error("failed to set up mail transport", sl.Err(err))
		os.Exit(1)
	}
	defer senderCleanup()

	disposable, disposableCleanup, err := setupDisposable(ctx, log, cfg)
	if err != nil {
		log.Error("failed to set up disposable checker", sl.Err(err))
		os.Exit(1)
	}
	defer disposableCleanup()

	codes := verification.NewStore(log, cfg.Session.CodeTTL)
	go codes.Run(ctx)

	limiter := ratelimit.NewMemoryLimiter(log, ratelimit.MemoryLimiterConfig{
		IPLimit:             cfg.Limits.IPLimit,
		IPWindow:            cfg.Limits.IPWindow,
		EmailLimit:          cfg.Limits.EmailLimit,
		EmailWindow:         cfg.Limits.EmailWindow,
		SuspiciousThreshold: cfg.Limits.SuspiciousThreshold,
		BlockDuration:       cfg.Limits.BlockDuration,
		Whitelist:           cfg.WhitelistEmails(),
		ExemptLoopback:      !cfg.IsProd(),
	})
	go limiter.Run(ctx)

	quota := ratelimit.NewDailyQuota(log, storage, cfg.Limits.DailyLimit, cfg.WhitelistEmails())

	codec := token.NewCodec(cfg.Session.Secret)

	authService := auth.New(log, storage, codes, sender, disposable, codec, cfg.Session.TTL)

	gw := gateway.New(log, storage, quota, cfg.Webhook.URL, cfg.Webhook.Timeout)

	router := setupRouter(log, cfg, authService, storage, quota, gw, limiter, codec)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.Webhook.Timeout + cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", sl.Err(err))
	} else {
		log.Info("server stopped gracefully")
	}
}

func setupRouter(
	log *slog.Logger,
	cfg *config.Config,
	authService *auth.Auth,
	storage *postgres.PostgresRepo,
	quota *ratelimit.DailyQuota,
	gw *gateway.Gateway,
	limiter *ratelimit.MemoryLimiter,
	codec *token.Codec,
) *chi.Mux {
	validate := validator.New()

	accessMw := access.New(
		log,
		limiter,
		codec,
		cfg.Session.CookieName,
		cfg.HTTPServer.RedirectURL,
		cfg.IsProd(),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(rateLimitMw.RequestCode()).Post("/request-code",
				requestCode.New(log, validate, authService),
			)
			r.With(rateLimitMw.VerifyCode()).Post("/verify-code",
				verifyCode.New(log, validate, authService, limiter, cfg.Session.CookieName, cfg.IsProd()),
			)
			r.With(rateLimitMw.Session()).Get("/session",
				sessionHandler.New(log, authService, cfg.Session.CookieName),
			)
		})

		r.Group(func(r chi.Router) {
			r.Use(accessMw.Handler)

			r.Post("/analyze",
				analyze.New(log, authService, gw, cfg.Webhook.MaxUploadBytes),
			)
			r.Route("/quota", func(r chi.Router) {
				r.Post("/check",
					admission.New(log, authService, storage, quota),
				)
				r.Post("/increment",
					increment.New(log, validate, authService, storage, quota),
				)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(rateLimitMw.Admin())

			r.Post("/unblock",
				adminHandler.NewUnblock(log, validate, limiter, cfg.Admin.PasswordHash),
			)
			r.Get("/stats",
				adminHandler.NewStats(log, limiter, cfg.Admin.PasswordHash),
			)
		})
	})

	return r
}

// setupSender picks the mail transport: the durable queue when a worker
// consumes it, direct SMTP otherwise.
func setupSender(cfg *config.Config) (auth.Sender, func(), error) {
	if cfg.Mail.Mode == "queue" {
		pub, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
		if err != nil {
			return nil, nil, err
		}
		return pub, pub.Close, nil
	}

	m := mailer.New(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
		cfg.SMTP.From,
		cfg.Mail.Timeout,
	)
	return m, func() {}, nil
}

// setupDisposable builds the disposable-email checker; the Redis cache
// is only dialed when a remote lookup is configured.
func setupDisposable(ctx context.Context, log *slog.Logger, cfg *config.Config) (auth.DisposableChecker, func(), error) {
	if cfg.Disposable.LookupURL == "" {
		checker := verification.NewDisposableChecker(log, nil, "", cfg.Disposable.Timeout, cfg.Disposable.CacheTTL)
		return checker, func() {}, nil
	}

	cache, err := redisrepo.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}

	checker := verification.NewDisposableChecker(
		log,
		cache,
		cfg.Disposable.LookupURL,
		cfg.Disposable.Timeout,
		cfg.Disposable.CacheTTL,
	)
	return checker, cache.Close, nil
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
