package models

import (
	"time"
)

// Signature records the proof satisfying one field. At most one row exists
// per field; the unique index on FieldID backs the signing engine's
// check-then-insert transaction. Exactly one of SignatureImage/TypedSignature
// is set; identity-verification and wallet-proof columns may accompany either.
type Signature struct {
	ID                   string  `gorm:"primaryKey"`
	FieldID              string  `gorm:"uniqueIndex;not null"`
	RecipientID          string  `gorm:"index;not null"`
	SignatureImage       *string `gorm:"type:text"`
	TypedSignature       *string
	VerifiedName         *string
	VerifiedCredentialID *string
	WalletSignature      *string `gorm:"type:text"`
	WalletAddress        *string
	DocumentDigest       *string
	CreatedAt            time.Time
}

// Method reports the verification badge for the confirmation record:
// identity-verified beats cryptographic beats none.
func (s *Signature) Method() string {
	switch {
	case s.VerifiedName != nil:
		return "identity-verified"
	case s.WalletSignature != nil:
		return "cryptographic"
	default:
		return "none"
	}
}
