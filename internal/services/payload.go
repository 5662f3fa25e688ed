package services

import (
	"encoding/json"
	"strings"

	"github.com/prometheus88/soulbound-signature/pkg/httperr"
)

type SignMode string

const (
	ModeIdentity SignMode = "identity-verified"
	ModeWallet   SignMode = "wallet-cryptographic"
	ModeTyped    SignMode = "typed"
	ModeDrawn    SignMode = "drawn"
	ModeValue    SignMode = "value"
)

// SignRequest is the wire shape of a sign call. Which mode applies is
// decided once, by Resolve, instead of scattering presence checks through
// the engine.
type SignRequest struct {
	VerifiedName    *string `json:"verifiedName,omitempty"`
	CredentialID    *string `json:"credentialId,omitempty"`
	WalletSignature *string `json:"walletSignature,omitempty"`
	WalletAddress   *string `json:"walletAddress,omitempty"`
	DocumentDigest  *string `json:"documentDigest,omitempty"`
	TypedSignature  *string `json:"typedSignature,omitempty"`
	SignatureImage  *string `json:"signatureImage,omitempty"`

	// Value is raw so that a present-but-falsy value (empty string, zero)
	// is distinguishable from an absent one. Only absence is rejected.
	Value json.RawMessage `json:"value,omitempty"`
}

// Resolve picks the signing mode for a signature-class field, in strict
// precedence: identity-verified, wallet-cryptographic, typed, drawn.
func (r SignRequest) Resolve() (SignMode, error) {
	switch {
	case r.VerifiedName != nil && r.CredentialID != nil:
		return ModeIdentity, nil
	case r.WalletSignature != nil && r.WalletAddress != nil && r.DocumentDigest != nil:
		return ModeWallet, nil
	case r.TypedSignature != nil:
		return ModeTyped, nil
	case r.SignatureImage != nil:
		return ModeDrawn, nil
	default:
		return "", httperr.Validation(
			"payload matches no signing mode",
			map[string]any{
				"accepted": []string{
					"identity-verified: verifiedName + credentialId (optionally walletSignature + walletAddress + documentDigest)",
					"wallet-cryptographic: walletSignature + walletAddress + documentDigest",
					"typed: typedSignature",
					"drawn: signatureImage",
				},
			},
		)
	}
}

// HasValue reports whether the value key was present at all. An empty
// string or a zero is a value; a missing or null key is not.
func (r SignRequest) HasValue() bool {
	return len(r.Value) > 0 && string(r.Value) != "null"
}

// ValueString renders the provided value as text: JSON strings are
// unquoted, everything else (numbers, booleans) keeps its literal form.
func (r SignRequest) ValueString() string {
	if !r.HasValue() {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Value, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(r.Value))
}
