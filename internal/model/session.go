package model

import "time"

// Session is a server-side login session referenced by the session token.
type Session struct {
	ID     string `gorm:"primaryKey;size:64"`
	UserID string `gorm:"index;size:64;not null"`

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session has passed its expiry time.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
