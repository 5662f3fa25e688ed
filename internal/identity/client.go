package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPOracle talks to the identity oracle service over HTTP.
type HTTPOracle struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPOracle(baseURL string) *HTTPOracle {
	return &HTTPOracle{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPOracle) ListVerifiedIdentities(ctx context.Context, wallet string) ([]VerifiedIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/identities/"+wallet, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("identity oracle returned %d", resp.StatusCode)
	}
	var out struct {
		Identities []VerifiedIdentity `json:"identities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Identities, nil
}

func (c *HTTPOracle) VerifyNameForWallet(ctx context.Context, wallet, claimedName, credentialID string) (Verification, error) {
	reqBody, _ := json.Marshal(map[string]any{
		"wallet":        wallet,
		"claimed_name":  claimedName,
		"credential_id": credentialID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/verify", bytes.NewReader(reqBody))
	if err != nil {
		return Verification{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Verification{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Verification{}, fmt.Errorf("identity oracle returned %d", resp.StatusCode)
	}
	var out Verification
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Verification{}, err
	}
	return out, nil
}

// MatchClaim applies the strict matching rule over a claim list: with a
// credential id the match must be that credential AND a case-insensitive
// name match; without one, any claim matching the name qualifies.
func MatchClaim(identities []VerifiedIdentity, claimedName, credentialID string) (VerifiedIdentity, bool) {
	for _, id := range identities {
		if credentialID != "" && id.CredentialID != credentialID {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(id.FullName), strings.TrimSpace(claimedName)) {
			return id, true
		}
	}
	return VerifiedIdentity{}, false
}
