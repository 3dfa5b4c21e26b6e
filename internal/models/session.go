package models

import "time"

// Session is a signed-in browser or API session. The raw token is only
// known to the client; stores keep its hash.
type Session struct {
	ID        string    `json:"id" db:"id"`
	TokenHash string    `json:"-" db:"token_hash"`
	UserID    string    `json:"userId" db:"user_id"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
	UserAgent string    `json:"userAgent" db:"user_agent"`
	IPAddress string    `json:"ipAddress" db:"ip_address"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// APIKey authenticates non-browser clients such as the MCP tools.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"userId" db:"user_id"`
	Name       string     `json:"name" db:"name"`
	Prefix     string     `json:"prefix" db:"prefix"`
	KeyHash    string     `json:"-" db:"key_hash"`
	LastUsedAt *time.Time `json:"lastUsedAt" db:"last_used_at"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
}
