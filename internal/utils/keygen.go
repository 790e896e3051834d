package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// randomHex returns n random bytes hex-encoded.
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateChargeID generates the externally-exposed charge id.
// Opaque, never sequential, never reused. Example: ch_9f86d081884c7d65...
func GenerateChargeID() (string, error) {
	s, err := randomHex(13)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ch_%s", s), nil
}

// GenerateRefundID generates the externally-exposed refund id.
func GenerateRefundID() (string, error) {
	s, err := randomHex(13)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rf_%s", s), nil
}
