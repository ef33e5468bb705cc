// Package jobs holds session ID generation and API route parsing.
package jobs

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewSessionID returns a random UUID v4 session ID.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidateSessionID accepts canonical lowercase UUIDs only, so IDs are safe to
// use as S3 prefixes and file names.
func ValidateSessionID(id string) error {
	u, err := uuid.Parse(id)
	if err != nil || u.String() != id {
		return fmt.Errorf("invalid sessionId: must be a UUID (e.g., a1b2c3d4-e5f6-7890-abcd-ef1234567890)")
	}
	return nil
}

// NormalizeSessionID lowercases id and strips surrounding whitespace.
func NormalizeSessionID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
