package tokenhash

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// SecretBytes is the amount of entropy carried by every refresh token.
const SecretBytes = 32

// Hasher derives the storage digest of opaque tokens.
// With a pepper the digest is HMAC-SHA256, otherwise plain SHA-256.
type Hasher struct {
	pepper []byte
}

// New constructs a Hasher. An empty pepper selects plain SHA-256.
func New(pepper string) *Hasher {
	return &Hasher{pepper: []byte(pepper)}
}

// Generate returns a fresh URL-safe token.
func (h *Hasher) Generate() (string, error) {
	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns the lowercase hex digest of token.
func (h *Hasher) Hash(token string) string {
	if len(h.pepper) == 0 {
		sum := sha256.Sum256([]byte(token))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, h.pepper)
	_, _ = mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
