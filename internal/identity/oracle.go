package identity

import (
	"context"
	"time"
)

// VerifiedIdentity is one approved verified-name claim tied to a wallet.
type VerifiedIdentity struct {
	CredentialID string     `json:"credential_id"`
	FullName     string     `json:"full_name"`
	Country      string     `json:"country,omitempty"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
}

// Verification is the result of re-validating a claimed name during sign.
type Verification struct {
	Verified     bool   `json:"verified"`
	CredentialID string `json:"credential_id,omitempty"`
	FullName     string `json:"full_name,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Oracle resolves a wallet's verified-identity claims. Implementations may
// fail; callers on the lookup path degrade errors to an empty result so a
// signer without reachable identity data can still sign via other modes.
type Oracle interface {
	ListVerifiedIdentities(ctx context.Context, wallet string) ([]VerifiedIdentity, error)
	VerifyNameForWallet(ctx context.Context, wallet, claimedName, credentialID string) (Verification, error)
}
