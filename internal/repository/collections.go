package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// registryCollection is the shared lightweight registry of partial-form
// definition records.
const registryCollection = "definitions"

// DefinitionCollection derives the heavy-store collection name for one
// definition key. Keys are built from free business text (title, topic), so
// the name is the sanitized key plus a short digest of the raw key: the
// digest keeps two keys that sanitize identically from colliding.
func DefinitionCollection(key string) string {
	return fmt.Sprintf("definition:%s-%s", sanitizeKeyPart(key), shortDigest(key))
}

// RunCollection derives the dedicated collection name for one graded run.
func RunCollection(courseID, assignmentID string) string {
	raw := courseID + "|" + assignmentID
	return fmt.Sprintf("run:%s-%s", sanitizeKeyPart(raw), shortDigest(raw))
}

// sanitizeKeyPart maps arbitrary text onto [a-z0-9-]: lower-cased, runs of
// anything else collapsed to a single '-', capped so pathological titles
// cannot produce unbounded names.
func sanitizeKeyPart(raw string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 64 {
		out = out[:64]
		out = strings.Trim(out, "-")
	}
	if out == "" {
		out = "key"
	}
	return out
}

func shortDigest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:4])
}
