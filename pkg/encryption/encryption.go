package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const algorithmAESGCM = "AES-256-GCM"

var ErrInvalidKey = errors.New("encryption key must be 32 bytes")

// EncryptedProps represents encrypted properties with metadata
type EncryptedProps struct {
	Data      string `json:"data"`      // Base64 encoded encrypted data
	IV        string `json:"iv"`        // Base64 encoded initialization vector
	Algorithm string `json:"algorithm"` // Encryption algorithm used
}

// DecodeKey parses a base64 encoded AES-256 key. An empty input yields a nil
// key, which disables encryption.
func DecodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// EncryptString seals plaintext with AES-256-GCM and returns the props
// serialized as JSON.
func EncryptString(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	props := EncryptedProps{
		Data:      base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(plaintext), nil)),
		IV:        base64.StdEncoding.EncodeToString(nonce),
		Algorithm: algorithmAESGCM,
	}
	out, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("failed to marshal encrypted props: %w", err)
	}
	return string(out), nil
}

// DecryptString reverses EncryptString.
func DecryptString(key []byte, sealed string) (string, error) {
	var props EncryptedProps
	if err := json.Unmarshal([]byte(sealed), &props); err != nil {
		return "", fmt.Errorf("failed to unmarshal encrypted props: %w", err)
	}
	if props.Algorithm != algorithmAESGCM {
		return "", fmt.Errorf("unsupported encryption algorithm: %q", props.Algorithm)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce, err := base64.StdEncoding.DecodeString(props.IV)
	if err != nil {
		return "", fmt.Errorf("failed to decode iv: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(props.Data)
	if err != nil {
		return "", fmt.Errorf("failed to decode data: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt data: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}
