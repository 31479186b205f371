// Package util provides small shared helpers for the chatflow application.
package util

import (
	"math/rand"
	"strings"
)

// GenerateRandomAlphaNumeric generates a random alphanumeric string of the
// specified length. Uses math/rand; not suitable for secrets.
func GenerateRandomAlphaNumeric(length int) string {
	if length <= 0 {
		return ""
	}

	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(chars[rand.Intn(len(chars))])
	}

	return builder.String()
}

// GenerateRandomID generates a random ID in the format "{prefix}{suffix}"
// where suffix is a random alphanumeric string of the given length.
func GenerateRandomID(prefix string, length int) string {
	return prefix + GenerateRandomAlphaNumeric(length)
}
