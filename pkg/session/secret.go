package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateOTP returns a fresh 12-character URL-safe document
// protection secret.
func GenerateOTP() (string, error) {
	b := make([]byte, 9)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generate otp: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
