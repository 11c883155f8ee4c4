package cryptoutils

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// credentialAlphabet holds 64 URL-safe symbols. 256 is a multiple of 64,
// so reducing random bytes modulo the alphabet size is unbiased.
const credentialAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// RandomCredential returns a random URL-safe string of the given length,
// suitable for service passwords and generated secret fields.
func RandomCredential(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("credential length must be positive")
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	for i, b := range buf {
		buf[i] = credentialAlphabet[int(b)%len(credentialAlphabet)]
	}
	return string(buf), nil
}
