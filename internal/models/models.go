package models

import "time"

// User is the persisted directory record for a recruiter email.
// VerificationCodeHash holds a bcrypt hash of the outstanding code and is
// cleared once verification succeeds.
type User struct {
	ID                   int64
	Email                string
	VerificationCodeHash []byte
	Verified             bool
	CodeGeneratedAt      *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// RateLimitRecord tracks the per-user daily analysis quota, 1:1 with User.
type RateLimitRecord struct {
	UserID       int64
	DailyCount   int
	LastAnalysis *time.Time
	LastReset    time.Time
}

// EmailMessage is the payload handed to the mail transport, either directly
// over SMTP or through the queue.
type EmailMessage struct {
	Email   string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
