package models

import "time"

// Transaction statuses. Transitions are monotonic: pending -> paid (terminal)
// or pending -> rejected. A rejected manual submission drops the account back
// to unpaid; there is no fourth account-level state.
const (
	StatusPending  = "pending"
	StatusPaid     = "paid"
	StatusRejected = "rejected"
)

// Channels a payment event can arrive through.
const (
	ChannelGateway  = "gateway"
	ChannelEvidence = "manual_evidence"
	ChannelAdmin    = "admin_override"
)

// PaymentTransaction is one attempt to pay the membership fee. Rows are
// immutable history except for the status/updated_at transition; they are kept
// even after the owning account is deleted.
type PaymentTransaction struct {
	ID               string `gorm:"primaryKey;size:36"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	UserID           uint   `gorm:"index;not null"`
	Channel          string `gorm:"size:32;not null"`
	Amount           int64  `gorm:"not null"`
	Currency         string `gorm:"size:8;not null"`
	Status           string `gorm:"size:16;not null;index"`
	GatewaySessionID string `gorm:"size:128;index"`
}
