package models

import (
	"time"
)

type RecipientRole string

const (
	RoleSigner RecipientRole = "signer"
	RoleViewer RecipientRole = "viewer"
	RoleCC     RecipientRole = "cc"
)

type SigningStatus string

const (
	SigningPending  SigningStatus = "pending"
	SigningSigned   SigningStatus = "signed"
	SigningRejected SigningStatus = "rejected"
)

// Recipient is a party assigned to a document. At least one of
// WalletAddress/Email must be set. AccessToken is the capability token
// granting signing access; it is never exposed to other recipients.
type Recipient struct {
	ID            string `gorm:"primaryKey"`
	DocumentID    string `gorm:"index;not null"`
	WalletAddress *string
	Email         *string
	Name          string        `gorm:"not null"`
	Role          RecipientRole `gorm:"not null;default:'signer'"`
	SigningOrder  *int
	SigningStatus SigningStatus `gorm:"not null;default:'pending'"`
	SignedAt      *time.Time
	OriginIP      *string
	OriginAgent   *string
	AccessToken   string `gorm:"uniqueIndex;not null"`
	CreatedAt     time.Time
}
