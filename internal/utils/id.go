package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier for connection-scoped state.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
