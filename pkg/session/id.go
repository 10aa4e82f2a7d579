package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// GenerateID produces a cryptographically secure, URL-safe session id.
//
// 32 random bytes are salted with the current timestamp and hashed with
// SHA-256; the hex digest is then base64url-encoded with padding stripped,
// so every character falls in [A-Za-z0-9_-]. The hash output is not
// reversible to the random seed.
func GenerateID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	salt := strconv.FormatFloat(float64(time.Now().UnixNano())/1e9, 'f', -1, 64)

	sum := sha256.Sum256(append(buf, salt...))
	digest := hex.EncodeToString(sum[:])

	return base64.RawURLEncoding.EncodeToString([]byte(digest)), nil
}
