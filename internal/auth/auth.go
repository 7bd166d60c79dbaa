package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sl "recruitpro/internal/lib/logger"
	"recruitpro/internal/lib/token"
	"recruitpro/internal/models"
	"recruitpro/internal/storage"
	"recruitpro/internal/verification"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrDisposableEmail = errors.New("disposable email address")
	ErrInvalidCode     = errors.New("invalid verification code")
	ErrCodeExpired     = errors.New("verification code expired")
)

// UserDirectory is the persisted store the identity flow needs.
type UserDirectory interface {
	UserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id int64) (models.User, error)
	CreateUser(ctx context.Context, email string, codeHash []byte) (models.User, error)
	SetVerificationCode(ctx context.Context, userID int64, codeHash []byte) error
	MarkVerified(ctx context.Context, userID int64) error
}

// Sender dispatches one email. Satisfied by the RabbitMQ publisher and
// the direct SMTP mailer.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// DisposableChecker screens throwaway email providers.
type DisposableChecker interface {
	IsDisposable(ctx context.Context, email string) bool
}

// Auth orchestrates the email verification state machine: code issuance
// and dispatch, code checking, session minting and validation.
type Auth struct {
	log        *slog.Logger
	users      UserDirectory
	codes      *verification.Store
	sender     Sender
	disposable DisposableChecker
	codec      *token.Codec
	sessionTTL time.Duration
}

func New(
	log *slog.Logger,
	users UserDirectory,
	codes *verification.Store,
	sender Sender,
	disposable DisposableChecker,
	codec *token.Codec,
	sessionTTL time.Duration,
) *Auth {
	return &Auth{
		log:        log,
		users:      users,
		codes:      codes,
		sender:     sender,
		disposable: disposable,
		codec:      codec,
		sessionTTL: sessionTTL,
	}
}

// RequestCode issues a fresh code for the email (overwriting any live
// one), mirrors its hash into the user row (creating the row on first
// contact) and dispatches it by mail. The code is never returned to the
// caller.
func (a *Auth) RequestCode(ctx context.Context, email string) error {
	const op = "auth.RequestCode"

	log := a.log.With(slog.String("op", op))

	email = strings.ToLower(strings.TrimSpace(email))

	if a.disposable != nil && a.disposable.IsDisposable(ctx, email) {
		log.Warn("disposable email rejected")
		return ErrDisposableEmail
	}

	code, err := a.codes.IssueCode(email)
	if err != nil {
		log.Error("failed to issue code", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	codeHash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to hash code", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.users.UserByEmail(ctx, email)
	switch {
	case err == nil:
		if err := a.users.SetVerificationCode(ctx, user.ID, codeHash); err != nil {
			log.Error("failed to update code", sl.Err(err))
			return fmt.Errorf("%s: %w", op, err)
		}
	case errors.Is(err, storage.ErrUserNotFound):
		if _, err := a.users.CreateUser(ctx, email, codeHash); err != nil {
			log.Error("failed to create user", sl.Err(err))
			return fmt.Errorf("%s: %w", op, err)
		}
	default:
		log.Error("failed to look up user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	subject := "Votre code de vérification IA Recrutement Pro"
	body := fmt.Sprintf(
		"Votre code de vérification est : %s\n\nIl expire dans 10 minutes.\n\nSi vous n'êtes pas à l'origine de cette demande, ignorez cet email.",
		code,
	)

	if err := a.sender.Send(ctx, email, subject, body); err != nil {
		log.Error("failed to send verification email", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("verification code sent")

	return nil
}

// VerifyCode checks a submitted code and, on success, marks the user
// verified and mints a signed session token.
func (a *Auth) VerifyCode(ctx context.Context, email, code string) (string, error) {
	const op = "auth.VerifyCode"

	log := a.log.With(slog.String("op", op))

	email = strings.ToLower(strings.TrimSpace(email))

	res := a.codes.Verify(email, code)
	if res.Expired {
		return "", ErrCodeExpired
	}
	if !res.Valid {
		return "", ErrInvalidCode
	}

	user, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		log.Error("verified email has no user row", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if err := a.users.MarkVerified(ctx, user.ID); err != nil {
		log.Error("failed to mark user verified", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()
	sessionToken, err := a.codec.Encode(token.Claims{
		Email:      email,
		Verified:   true,
		VerifiedAt: now.UnixMilli(),
		Exp:        now.Add(a.sessionTTL).Unix(),
	})
	if err != nil {
		log.Error("failed to mint session token", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("email verified", slog.Int64("uid", user.ID))

	return sessionToken, nil
}

// ValidateSession verifies a session token and returns its claims.
// Failures are sentinel errors from the token package; no claim data is
// ever returned from an invalid token.
func (a *Auth) ValidateSession(tokenStr string) (token.Claims, error) {
	return a.codec.Decode(tokenStr)
}

// SessionTTL exposes the configured session lifetime for cookie MaxAge.
func (a *Auth) SessionTTL() time.Duration {
	return a.sessionTTL
}
