package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recruitpro/internal/config"
	"recruitpro/internal/models"
	"recruitpro/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	dsn := dsn(cfg)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

func (r *PostgresRepo) UserByEmail(ctx context.Context, email string) (models.User, error) {
	query := `
		SELECT id, email, verification_code_hash, verified, code_generated_at, created_at, updated_at
		FROM users
		WHERE email = $1;
	`

	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *PostgresRepo) UserByID(ctx context.Context, id int64) (models.User, error) {
	query := `
		SELECT id, email, verification_code_hash, verified, code_generated_at, created_at, updated_at
		FROM users
		WHERE id = $1;
	`

	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

// CreateUser inserts a user with an outstanding code hash. When a
// concurrent request wins the insert race, the existing row is fetched
// and returned instead of surfacing the unique violation.
func (r *PostgresRepo) CreateUser(ctx context.Context, email string, codeHash []byte) (models.User, error) {
	const op = "storage.postgres.CreateUser"

	query := `
		INSERT INTO users (email, verification_code_hash, verified, code_generated_at)
		VALUES ($1, $2, FALSE, NOW())
		RETURNING id, email, verification_code_hash, verified, code_generated_at, created_at, updated_at;
	`

	u, err := r.scanUser(r.pool.QueryRow(ctx, query, email, codeHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return r.UserByEmail(ctx, email)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// SetVerificationCode records a fresh outstanding code for the user.
func (r *PostgresRepo) SetVerificationCode(ctx context.Context, userID int64, codeHash []byte) error {
	const op = "storage.postgres.SetVerificationCode"

	query := `
		UPDATE users
		SET verification_code_hash = $1, code_generated_at = NOW(), updated_at = NOW()
		WHERE id = $2;
	`

	if _, err := r.pool.Exec(ctx, query, codeHash, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// MarkVerified flips the verified flag and clears the outstanding code;
// verification_code_hash is non-null only while a code is live.
func (r *PostgresRepo) MarkVerified(ctx context.Context, userID int64) error {
	const op = "storage.postgres.MarkVerified"

	query := `
		UPDATE users
		SET verified = TRUE, verification_code_hash = NULL, updated_at = NOW()
		WHERE id = $1;
	`

	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) RateLimit(ctx context.Context, userID int64) (models.RateLimitRecord, error) {
	query := `
		SELECT user_id, daily_count, last_analysis, last_reset
		FROM rate_limits
		WHERE user_id = $1;
	`

	row := r.pool.QueryRow(ctx, query, userID)

	var rec models.RateLimitRecord
	err := row.Scan(&rec.UserID, &rec.DailyCount, &rec.LastAnalysis, &rec.LastReset)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RateLimitRecord{}, storage.ErrRateLimitNotFound
		}
		return models.RateLimitRecord{}, err
	}

	return rec, nil
}

func (r *PostgresRepo) CreateRateLimit(ctx context.Context, userID int64) (models.RateLimitRecord, error) {
	const op = "storage.postgres.CreateRateLimit"

	query := `
		INSERT INTO rate_limits (user_id, daily_count, last_reset)
		VALUES ($1, 0, NOW())
		RETURNING user_id, daily_count, last_analysis, last_reset;
	`

	row := r.pool.QueryRow(ctx, query, userID)

	var rec models.RateLimitRecord
	err := row.Scan(&rec.UserID, &rec.DailyCount, &rec.LastAnalysis, &rec.LastReset)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return r.RateLimit(ctx, userID)
		}
		return models.RateLimitRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

func (r *PostgresRepo) UpdateRateLimit(ctx context.Context, rec models.RateLimitRecord) error {
	const op = "storage.postgres.UpdateRateLimit"

	query := `
		UPDATE rate_limits
		SET daily_count = $1, last_analysis = $2, last_reset = $3
		WHERE user_id = $4;
	`

	if _, err := r.pool.Exec(ctx, query, rec.DailyCount, rec.LastAnalysis, rec.LastReset, rec.UserID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func (r *PostgresRepo) scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.VerificationCodeHash,
		&u.Verified,
		&u.CodeGeneratedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}
		return models.User{}, err
	}

	return u, nil
}

func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
