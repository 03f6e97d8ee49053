// ABOUTME: Storage key escaping, API key generation, and row ID helpers
// ABOUTME: Shared by every SQL backend so key layouts stay identical

package store

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389/wa-gateway/internal/phone"
	"github.com/2389/wa-gateway/internal/tenant"
)

// APIKeyPrefix marks generated tenant API keys
const APIKeyPrefix = "sk_"

var keyEscaper = strings.NewReplacer(
	"_", "_5F",
	"-", "_2D",
	"/", "__",
	":", "-",
)

// EscapeKeyName maps a logical key name to a storage-safe key.
// '/' becomes "__" and ':' becomes '-'; literal '_' and '-' are escaped
// first so distinct names never collide.
func EscapeKeyName(name string) string {
	return keyEscaper.Replace(name)
}

// GenerateAPIKey returns "sk_" followed by 24 random bytes, base64url encoded.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// newMessageID returns a time-ordered identifier for message log rows.
func newMessageID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

// scope normalizes the tenant every backend keys its rows by.
func scope(id string) string {
	return tenant.NormalizeID(id)
}

// whitelistNumber reduces a whitelist entry to digits.
func whitelistNumber(number string) string {
	return phone.Digits(number)
}

// nullString returns nil for empty strings so they store as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
