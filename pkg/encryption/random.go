package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateRandomString returns length random bytes encoded as unpadded
// URL-safe base64, suitable for query parameters such as OAuth state.
func GenerateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random string: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
