package model

import "time"

// Customer is an opaque customer reference. It carries no personal data.
type Customer struct {
	CustomerNumber string    `gorm:"primaryKey;size:100"`
	CreatedAt      time.Time `gorm:"not null"`

	// Associations
	PartRequests []PartRequest `gorm:"foreignKey:CustomerNumber;references:CustomerNumber"`
}
