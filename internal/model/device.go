package model

import "time"

// Device is a push-registered device owned by a user. The id is generated by
// the client and reused across subscription renewals, so (id, user_id) forms
// the primary key: a client supplying a foreign id creates its own row instead
// of touching the other user's document.
type Device struct {
	ID               string  `gorm:"primaryKey;size:64" json:"id"`
	UserID           string  `gorm:"primaryKey;size:64" json:"-"`
	Device           string  `gorm:"not null" json:"device"`
	Browser          string  `gorm:"not null" json:"browser"`
	SubscriptionJSON *string `gorm:"column:subscription_json" json:"subscriptionJson"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}
