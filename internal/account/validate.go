// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package account

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// emailRegex is a pragmatic syntactic check: local@domain.tld with the domain
// containing at least one dot and a 2+ letter final label. No DNS/MX lookup.
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// IsValidEmail reports whether the address passes the syntactic email check.
// Pure and side-effect free.
func IsValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// IsStrongPassword reports whether the password meets the strength rules:
// length >= 8 with at least one uppercase letter, one lowercase letter, and
// one digit. Pure and side-effect free.
func IsStrongPassword(password string) bool {
	// Length is counted in characters, not bytes, so multi-byte letters
	// are not worth more than one.
	if utf8.RuneCountInString(password) < 8 {
		return false
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasUpper && hasLower && hasDigit
}
