package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateAPIKey returns a new widget API key: a stable vr_ prefix followed
// by the uppercase UUID without dashes. Rotated keys use the same format.
func GenerateAPIKey() string {
	key := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "vr_" + key
}
