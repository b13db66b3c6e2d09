// Package auth verifies override tokens against a stored SHA-256 hash.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SaveSecret writes the token's hash to the secret file with 0600
// permissions. The plaintext token is never stored.
func SaveSecret(secretFile, token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if dir := filepath.Dir(secretFile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create secret dir: %w", err)
		}
	}
	if err := os.WriteFile(secretFile, []byte(HashToken(token)), 0o600); err != nil {
		return fmt.Errorf("write secret file: %w", err)
	}
	return nil
}

// Verify answers whether the given token matches the stored hash. A
// missing secret file means no token can verify.
func Verify(secretFile, token string) bool {
	stored, err := os.ReadFile(secretFile)
	if err != nil {
		return false
	}
	return HashToken(token) == strings.TrimSpace(string(stored))
}
