/**
 * @description
 * This package generates the opaque bearer tokens that back magic-link access.
 * A token is 32 bytes of cryptographically secure randomness, hex encoded, with
 * a fixed 30-day validity window computed from the moment of issuance.
 *
 * @notes
 * - Generation is pure: a token has no relationship to the account or record it
 *   will later be attached to, so one token reveals nothing about any other.
 * - Hex encoding keeps the token URL-safe for use as a query parameter.
 */
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Validity is how long an issued token remains usable.
const Validity = 30 * 24 * time.Hour

// tokenBytes is the entropy per token (256 bits).
const tokenBytes = 32

// Issue generates a fresh access token and its expiry timestamp.
func Issue(now time.Time) (string, time.Time, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), now.Add(Validity), nil
}
