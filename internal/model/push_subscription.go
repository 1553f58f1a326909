package model

import "time"

// PushSubscription is an operator browser endpoint alerted when a
// notification draft is ready for review.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	Operator  string    `gorm:"size:100"`
	CreatedAt time.Time `gorm:"not null"`
}
