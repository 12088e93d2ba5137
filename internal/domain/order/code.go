package order

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// CodePrefix starts every human-facing order code.
const CodePrefix = "ORD-"

// NewCode returns "ORD-" followed by 6 uppercase hex characters taken from a
// random UUID.
func NewCode() string {
	id := uuid.New()
	return CodePrefix + strings.ToUpper(hex.EncodeToString(id[:3]))
}
