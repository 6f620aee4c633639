package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyEmail indicates the email address is empty
	ErrEmptyEmail = errors.New("email address cannot be empty")

	// ErrInvalidEmail indicates the email address is malformed
	ErrInvalidEmail = errors.New("email address is not valid")

	// ErrInvalidPhone indicates the phone number is malformed
	ErrInvalidPhone = errors.New("phone number must be 7-15 digits, optionally prefixed with +")
)

// emailRegex is a pragmatic address check; full RFC 5322 validation is a
// losing game and delivery is confirmed out of band anyway
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// phoneRegex matches E.164-style numbers after sanitization
var phoneRegex = regexp.MustCompile(`^\+?\d{7,15}$`)

// ContactValidator validates client contact details on booking requests
type ContactValidator struct{}

// NewContactValidator creates a new contact validator instance
func NewContactValidator() *ContactValidator {
	return &ContactValidator{}
}

// ValidateEmail validates and normalizes an email address. Returns the
// lowercased address.
func (v *ContactValidator) ValidateEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", ErrEmptyEmail
	}
	if !emailRegex.MatchString(trimmed) {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(trimmed), nil
}

// ValidatePhone validates and sanitizes an international phone number.
// Accepts separators (spaces, dashes, parentheses, dots) and an optional
// leading +; returns the sanitized number.
func (v *ContactValidator) ValidatePhone(phone string) (string, error) {
	sanitized := v.SanitizePhone(phone)
	if !phoneRegex.MatchString(sanitized) {
		return "", ErrInvalidPhone
	}
	return sanitized, nil
}

// SanitizePhone removes common separator characters from a phone number
func (v *ContactValidator) SanitizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	for _, sep := range []string{" ", "-", "(", ")", "."} {
		phone = strings.ReplaceAll(phone, sep, "")
	}
	return phone
}

// IsValidEmail is a convenience method that returns true if email is valid
func (v *ContactValidator) IsValidEmail(email string) bool {
	_, err := v.ValidateEmail(email)
	return err == nil
}

// IsValidPhone is a convenience method that returns true if phone is valid
func (v *ContactValidator) IsValidPhone(phone string) bool {
	_, err := v.ValidatePhone(phone)
	return err == nil
}
