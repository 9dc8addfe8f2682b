package model

import "time"

// User owns zero or more pushed devices. CurrentSessionID tracks the most
// recently created session; requests carrying an older session are answered
// with an otherSession envelope.
type User struct {
	ID               string `gorm:"primaryKey;size:64"`
	Name             string `gorm:"not null"`
	CurrentSessionID string `gorm:"size:64"`

	CreatedAt time.Time
}
