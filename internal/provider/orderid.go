package provider

import (
	"strings"

	"github.com/google/uuid"
)

// maxOrderIDLen is the downstream processor limit on client order ids.
const maxOrderIDLen = 19

// NewOrderID derives a client order id from an intent id: alphanumeric only,
// capped at 19 characters to satisfy processor constraints.
func NewOrderID(intentID uuid.UUID) string {
	return SanitizeOrderID(strings.ReplaceAll(intentID.String(), "-", ""))
}

// SanitizeOrderID strips non-alphanumeric characters and truncates to the
// processor limit.
func SanitizeOrderID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
		if b.Len() == maxOrderIDLen {
			break
		}
	}
	return b.String()
}
