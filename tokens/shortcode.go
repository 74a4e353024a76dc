package tokens

import (
	"crypto/rand"
	"fmt"
)

// The alphabet leaves out 0/O and 1/I so a code read off a projector can
// be typed without guessing. Its length is a power of two, which keeps the
// modulo below unbiased.
const (
	shortCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	ShortCodeLength   = 6
)

func newShortCode() (string, error) {
	buf := make([]byte, ShortCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = shortCodeAlphabet[int(b)%len(shortCodeAlphabet)]
	}
	return string(buf), nil
}
