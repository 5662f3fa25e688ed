package models

import (
	"time"
)

type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "draft"
	StatusPending   DocumentStatus = "pending"
	StatusCompleted DocumentStatus = "completed"
	StatusCancelled DocumentStatus = "cancelled"
)

// Document is the top-level signable unit: one PDF artifact plus its
// recipients and placed fields. CompletedAt is set iff Status is completed.
type Document struct {
	ID           string         `gorm:"primaryKey"`
	Title        string         `gorm:"not null"`
	Status       DocumentStatus `gorm:"not null;default:'draft'"`
	OwnerAddress string         `gorm:"index;not null"`
	PaymentTxRef *string
	ArtifactData []byte  `gorm:"type:bytea"`
	SourceMarkup *string `gorm:"type:text"`
	CreatedAt    time.Time
	CompletedAt  *time.Time
}
