package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"ana@example.com", true},
		{"Ana.Lopez+tasks@Mail.Example.ORG", true},
		{"  ana@example.com  ", true},
		{"ana@example", false},
		{"ana.example.com", false},
		{"ana@example.technology", false},
		{"", false},
		{"ana lopez@example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			err := Email(tt.email)
			if (err == nil) != tt.valid {
				t.Errorf("Email(%q) error = %v, want valid=%v", tt.email, err, tt.valid)
			}
			if err != nil && !errors.Is(err, ErrInvalidEmail) {
				t.Errorf("error %v does not match ErrInvalidEmail", err)
			}
		})
	}
}

func TestPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantMsg  string
	}{
		{"valid", "Secret1234", ""},
		{"too short", "Sec1234", "at least 9"},
		{"no upper", "secret1234", "upper case"},
		{"no lower", "SECRET1234", "lower case"},
		{"no digit", "SecretWord", "digit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Password(tt.password)
			if tt.wantMsg == "" {
				if err != nil {
					t.Errorf("Password() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrWeakPassword) {
				t.Fatalf("Password() error = %v, want ErrWeakPassword", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Password() error = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestFullName(t *testing.T) {
	if err := FullName("Ana Lopez"); err != nil {
		t.Errorf("FullName() error = %v", err)
	}
	if err := FullName("Ana"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("FullName(short) error = %v, want ErrInvalidName", err)
	}
	if err := FullName(strings.Repeat("a", MaxNameLength+1)); !errors.Is(err, ErrInvalidName) {
		t.Errorf("FullName(long) error = %v, want ErrInvalidName", err)
	}
}

func TestRegistration_JoinsErrors(t *testing.T) {
	err := Registration("Al", "not-an-email", "short")
	for _, target := range []error{ErrInvalidName, ErrInvalidEmail, ErrWeakPassword} {
		if !errors.Is(err, target) {
			t.Errorf("Registration() error = %v, want it to match %v", err, target)
		}
	}
	if err := Registration("Ana Lopez", "ana@example.com", "Secret1234"); err != nil {
		t.Errorf("Registration() error = %v, want nil", err)
	}
}
