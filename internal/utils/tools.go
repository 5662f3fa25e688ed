package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// GenerateAccessToken returns a 64-character hex capability token. The
// token is the sole credential granting a recipient signing access, so it
// comes from the CSPRNG, never from a UUID.
func GenerateAccessToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DocumentDigest computes the keccak-256 digest of the artifact bytes,
// 0x-prefixed. Wallet-mode clients sign this digest.
func DocumentDigest(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
