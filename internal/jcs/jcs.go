package jcs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Digest marshals v, canonicalizes it per RFC 8785 and returns the sha256
// hex digest. Equal values produce equal digests regardless of key order.
func Digest(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("jcs: marshal: %w", err)
	}
	return DigestJSON(raw)
}

func DigestJSON(input []byte) (string, error) {
	canonical, err := jcs.Transform(input)
	if err != nil {
		return "", fmt.Errorf("jcs: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
