package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Facilitator verifies a payment proof against requirements and settles it
// on chain. Network trouble surfaces as an error; callers translate that
// into another 402 challenge, never a 5xx.
type Facilitator interface {
	Verify(ctx context.Context, payload *Payload, reqs Requirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload *Payload, reqs Requirements) (SettleResponse, error)
}

type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// FacilitatorClient is the HTTP implementation of Facilitator.
type FacilitatorClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewFacilitatorClient(baseURL string) *FacilitatorClient {
	return &FacilitatorClient{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *FacilitatorClient) post(ctx context.Context, path string, payload *Payload, reqs Requirements, out any) error {
	reqBody, _ := json.Marshal(map[string]any{
		"x402Version":         ProtocolVersion,
		"paymentPayload":      payload,
		"paymentRequirements": reqs,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("facilitator returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *FacilitatorClient) Verify(ctx context.Context, payload *Payload, reqs Requirements) (VerifyResponse, error) {
	var out VerifyResponse
	err := c.post(ctx, "/verify", payload, reqs, &out)
	return out, err
}

func (c *FacilitatorClient) Settle(ctx context.Context, payload *Payload, reqs Requirements) (SettleResponse, error) {
	var out SettleResponse
	err := c.post(ctx, "/settle", payload, reqs, &out)
	return out, err
}
