// Package validation checks registration and login input before it is
// sent to the server, using the same rules the server applies.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinPasswordLength = 9
	MinNameLength     = 4
	MaxNameLength     = 100
)

var (
	// ErrInvalidEmail is returned for addresses the server would refuse.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrWeakPassword is returned for passwords that break the policy.
	ErrWeakPassword = errors.New("password too weak")
	// ErrInvalidName is returned for full names outside the allowed length.
	ErrInvalidName = errors.New("invalid name")
)

var emailPattern = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,6}$`)

// Email checks an email address.
func Email(email string) error {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}

// Password checks the password policy: at least MinPasswordLength
// characters with an upper case letter, a lower case letter and a digit.
func Password(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	var missing []string
	if !lower {
		missing = append(missing, "a lower case letter")
	}
	if !upper {
		missing = append(missing, "an upper case letter")
	}
	if !digit {
		missing = append(missing, "a digit")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: must contain %s", ErrWeakPassword, strings.Join(missing, ", "))
	}
	return nil
}

// FullName checks the display name given at registration.
func FullName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < MinNameLength || n > MaxNameLength {
		return fmt.Errorf("%w: must be %d to %d characters (got %d)", ErrInvalidName, MinNameLength, MaxNameLength, n)
	}
	return nil
}

// Registration checks all registration fields and joins their errors.
func Registration(fullName, email, password string) error {
	return errors.Join(FullName(fullName), Email(email), Password(password))
}
