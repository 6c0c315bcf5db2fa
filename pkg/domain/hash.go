package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashContent digests the canonical JSON encoding of v: encoding/json emits
// map keys in sorted order and preserves array order, so two structurally
// equal contents hash identically regardless of how their maps were built.
func HashContent(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical encode: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
