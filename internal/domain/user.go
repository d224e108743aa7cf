package domain

import "time"

// User is a registered dockmate account.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// PasswordReset tracks an in-flight OTP password reset for a user.
type PasswordReset struct {
	Email     string
	OTP       string
	Verified  bool
	ExpiresAt time.Time
	CreatedAt time.Time
}
