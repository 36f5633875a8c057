package shared

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 64
)

// NormalizeUsername returns the canonical form used for storage and lookups:
// NFKC normalised, case folded and trimmed.
func NormalizeUsername(raw string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(raw)))
}

// ValidateUsername normalises raw and checks length and allowed characters.
func ValidateUsername(raw string) (string, error) {
	name := NormalizeUsername(raw)
	n := utf8.RuneCountInString(name)
	if n < minUsernameLen || n > maxUsernameLen {
		return "", fmt.Errorf("%w: username must be %d-%d characters", ErrValidation, minUsernameLen, maxUsernameLen)
	}
	if strings.ContainsAny(name, " \t\r\n") {
		return "", fmt.Errorf("%w: username must not contain whitespace", ErrValidation)
	}
	return name, nil
}
