package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Digest returns a stable hex digest of request text. Confirmation tokens are
// bound to this digest, so normalization must stay in sync with what callers
// resend: leading/trailing whitespace is ignored, the rest is hashed verbatim.
func Digest(input string) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(input)))
	return fmt.Sprintf("%x", hash)
}
