package auth

import "time"

// User is the credential record of an account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Login outcomes reported to the LoginRecorder.
const (
	LoginSucceeded          = "success"
	LoginInvalidCredentials = "invalid_credentials"
	LoginThrottled          = "throttled"
)

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}
