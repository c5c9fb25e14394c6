package engine

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
)

// newReqID returns a random 24-character reqid: base32 of 15 random
// bytes, which divides evenly so no padding is produced (spec.md
// GLOSSARY: "a random 24-character token").
func newReqID() (string, error) {
	buf := make([]byte, 15)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reqid: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
