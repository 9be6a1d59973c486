package deviceflow

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// userCodeAlphabet is the character set for user codes. 0, O, 1, I and
// L are excluded so codes survive being read aloud or retyped from a
// small screen.
const userCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// userCodeLength is the number of alphabet characters in a user code,
// displayed as two dash-separated groups of four.
const userCodeLength = 8

// GenerateDeviceCode returns a 43-character base64url opaque device
// code backed by 256 bits of randomness.
func GenerateDeviceCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate device code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateUserCode returns a user code in XXXX-XXXX form.
func GenerateUserCode() (string, error) {
	chars := make([]byte, userCodeLength)

	// Rejection sampling keeps the distribution uniform.
	limit := 256 - (256 % len(userCodeAlphabet))
	buf := make([]byte, 1)
	for i := 0; i < userCodeLength; {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate user code: %w", err)
		}
		if int(buf[0]) >= limit {
			continue
		}
		chars[i] = userCodeAlphabet[int(buf[0])%len(userCodeAlphabet)]
		i++
	}
	return string(chars[:4]) + "-" + string(chars[4:]), nil
}

// NormalizeUserCode canonicalizes user input: uppercase with separators
// and whitespace removed.
func NormalizeUserCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}

// ValidateUserCode checks that a normalized user code has the right
// length and alphabet.
func ValidateUserCode(normalized string) error {
	if len(normalized) != userCodeLength {
		return invalidRequest("user code must be 8 characters")
	}
	for _, c := range normalized {
		if !strings.ContainsRune(userCodeAlphabet, c) {
			return invalidRequest("user code contains invalid characters")
		}
	}
	return nil
}

// formatUserCode renders a normalized code back into display form.
func formatUserCode(normalized string) string {
	if len(normalized) != userCodeLength {
		return normalized
	}
	return normalized[:4] + "-" + normalized[4:]
}
