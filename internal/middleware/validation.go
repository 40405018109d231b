package middleware

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateLeadID validates a lead ID.
func ValidateLeadID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid lead ID format")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return errors.New("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("tenant ID exceeds maximum length")
	}
	return nil
}

// ValidatePhone validates a participant phone number: digits with an optional leading +
// and common separators.
func ValidatePhone(phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return errors.New("phone cannot be empty")
	}
	if len(phone) > 32 {
		return errors.New("phone exceeds maximum length")
	}
	digits := 0
	for i, r := range phone {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return errors.New("phone contains invalid characters")
		}
	}
	if digits < 5 {
		return errors.New("phone has too few digits")
	}
	return nil
}

// ValidateText validates a free-text field such as a name or area.
func ValidateText(field, s string, max int) error {
	if len(s) > max {
		return errors.New(field + " exceeds maximum length")
	}
	if !utf8.ValidString(s) {
		return errors.New(field + " must be valid UTF-8")
	}
	return nil
}
