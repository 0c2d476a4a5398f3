package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const minPasswordLength = 8

const passwordSymbols = "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~"

// Password policy violations, reported in this order.
const (
	ReasonTooShort  = "password must be at least 8 characters long"
	ReasonNoUpper   = "password must contain an uppercase letter"
	ReasonNoLower   = "password must contain a lowercase letter"
	ReasonNoDigit   = "password must contain a digit"
	ReasonNoSpecial = "password must contain a special character"
)

// PasswordPolicy checks password strength.
type PasswordPolicy struct{}

// Validate returns every rule candidate violates. An empty result means the
// password is acceptable.
func (PasswordPolicy) Validate(candidate string) []string {
	var upper, lower, digit, special bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			special = true
		}
	}

	var reasons []string
	if utf8.RuneCountInString(candidate) < minPasswordLength {
		reasons = append(reasons, ReasonTooShort)
	}
	if !upper {
		reasons = append(reasons, ReasonNoUpper)
	}
	if !lower {
		reasons = append(reasons, ReasonNoLower)
	}
	if !digit {
		reasons = append(reasons, ReasonNoDigit)
	}
	if !special {
		reasons = append(reasons, ReasonNoSpecial)
	}
	return reasons
}
