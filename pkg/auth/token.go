package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenPrefix identifies session tokens in logs and support requests
	TokenPrefix = "rzl_"
	// TokenLength is the number of random bytes per token (256 bits)
	TokenLength = 32
)

// TokenGenerator generates and hashes bearer tokens. Tokens are stored only
// as SHA256 hashes; the plaintext leaves the server exactly once.
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// Generate creates a new token.
// Format: rzl_<base64url(32 random bytes)>
func (tg *TokenGenerator) Generate() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullToken := TokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return fullToken, tg.Hash(fullToken), nil
}

// Hash computes the SHA256 hash of a token for storage and lookup
func (tg *TokenGenerator) Hash(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateFormat checks token shape before any database lookup
func (tg *TokenGenerator) ValidateFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}
	encoded := strings.TrimPrefix(token, TokenPrefix)
	if len(encoded) == 0 {
		return fmt.Errorf("token is too short")
	}
	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}
