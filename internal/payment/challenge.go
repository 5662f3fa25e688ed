package payment

import (
	"encoding/base64"
	"encoding/json"

	"github.com/prometheus88/soulbound-signature/internal/config"
)

const ProtocolVersion = 1

// Requirements is the payment-requirement descriptor carried in a 402
// challenge. Amounts are atomic units of the asset, as decimal strings.
type Requirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// Payload is the decoded payment proof a client presents in the X-Payment
// header. The scheme-specific proof stays opaque to this service; only the
// facilitator interprets it.
type Payload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// SettledPayment is what a successful verify+settle handshake attaches to
// the downstream document-creation call.
type SettledPayment struct {
	TxHash  string
	Payer   string
	Amount  string
	Network string
}

// BuildRequirements builds the challenge descriptor for one protected
// resource.
func BuildRequirements(cfg config.PaymentConfig, resource string) Requirements {
	extra := map[string]any{
		"name":    "Document Signature Package",
		"version": "1",
	}
	if cfg.GasSponsored {
		extra["gasSponsored"] = true
	}
	return Requirements{
		Scheme:            "exact",
		Network:           cfg.Network,
		MaxAmountRequired: cfg.PriceAtomic,
		Resource:          resource,
		Description:       "Create a payment-gated signature package",
		MimeType:          "application/json",
		PayTo:             cfg.PayTo,
		MaxTimeoutSeconds: cfg.MaxTimeoutSecs,
		Asset:             cfg.Asset,
		Extra:             extra,
	}
}

// DecodePayload decodes a base64-encoded JSON payment payload.
func DecodePayload(header string) (*Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
