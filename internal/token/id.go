package token

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DomainToken is the domain prefix for token record IDs.
// The version suffix allows the derivation to change without collisions.
const DomainToken = "cashutrack/token/v1"

// ID derives the stable record ID for a payload.
// Format: hex(SHA256(domain + 0x00 + payload)), with surrounding whitespace
// and a leading "cashu:" URI scheme removed from payload first.
func ID(payload string) string {
	h := sha256.New()
	h.Write([]byte(DomainToken))
	h.Write([]byte{0x00})
	h.Write([]byte(strings.TrimPrefix(strings.TrimSpace(payload), uriScheme)))
	return hex.EncodeToString(h.Sum(nil))
}

// ShortID returns the first 12 characters of an ID for display.
func ShortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

// NormalizeText returns s trimmed and NFC normalized.
// Owner names come from chat clients that may send decomposed Unicode.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
