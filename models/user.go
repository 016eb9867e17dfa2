package models

import (
	"time"
)

// Payment states an account can be in. The account field mirrors the state of
// its transactions and is written only by the payment reconciliation machine
// (or an admin override routed through it).
const (
	PaymentUnpaid  = "unpaid"
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// User model
type User struct {
	ID             uint `gorm:"primaryKey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time `gorm:"index"`
	Contact        string     `gorm:"size:64;not null;unique"` // unique contact identifier used for login
	Name           string     `gorm:"size:255;not null"`
	College        string     `gorm:"size:255"`
	ClassName      string     `gorm:"size:64"`
	Stream         string     `gorm:"size:64"`
	HashedPassword []byte     `gorm:"not null"`
	RoleID         *uint      `gorm:"index"`
	Role           Role       `gorm:"foreignKey:RoleID;references:ID"`

	// Membership payment state, written only through pkg/payment.
	PaymentPaid   bool   `gorm:"default:false;not null"`
	PaymentStatus string `gorm:"size:16;default:unpaid;not null"`

	// Credential-guard state, written only through pkg/guard.
	FailedAttemptCount int        `gorm:"default:0;not null"`
	LockedUntil        *time.Time `gorm:"index"`
	LastLoginAt        *time.Time
}
