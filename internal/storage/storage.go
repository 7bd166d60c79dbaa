package storage

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrRateLimitNotFound = errors.New("rate limit record not found")
)
