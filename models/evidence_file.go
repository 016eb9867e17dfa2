package models

import "time"

// EvidenceFile records an uploaded payment-evidence image (receipt screenshot)
// backing a manual_evidence transaction.
type EvidenceFile struct {
	ID            uint `gorm:"primaryKey"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	UserID        uint    `gorm:"index;not null"`
	FileName      string  `gorm:"size:255;not null"`
	StorePath     string  `gorm:"column:store_path;size:512"`
	ContentType   string  `gorm:"size:128"`
	SizeBytes     int64   `gorm:"not null"`
	TransactionID *string `gorm:"size:36;index"` // FK to payment_transactions.id (nullable)
	// Amount read from the receipt by OCR; 0 when nothing plausible was found.
	OCRAmount int64 `gorm:"default:0"`
	// Mark evidence as failed for OCR processing (record kept so admins can review)
	Failed       bool   `gorm:"default:false;index"`
	FailedReason string `gorm:"size:255"`
}
