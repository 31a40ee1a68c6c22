package testutils

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
)

// RandomSecret returns a throwaway credential so tests never carry literals.
func RandomSecret(t testing.TB) string {
	t.Helper()
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	return hex.EncodeToString(buf)
}
