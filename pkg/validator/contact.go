package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrEmptyContact  = errors.New("contact number cannot be empty")
	ErrInvalidFormat = errors.New("contact number can only contain digits")
	ErrInvalidLength = errors.New("contact number must be exactly 11 digits")
	ErrInvalidPrefix = errors.New("contact number must start with 09")
)

var digitsRegex = regexp.MustCompile(`^\d+$`)

// ContactValidator checks the mobile number borrowers leave on a reservation.
// Numbers are local Philippine mobiles: 09 followed by nine digits.
type ContactValidator struct{}

func NewContactValidator() *ContactValidator {
	return &ContactValidator{}
}

// Validate returns the number in 09XXXXXXXXX form.
// Accepts 0917 123 4567, 0917-123-4567 and +63 917 123 4567.
func (v *ContactValidator) Validate(contact string) (string, error) {
	if strings.TrimSpace(contact) == "" {
		return "", ErrEmptyContact
	}

	sanitized := v.Sanitize(contact)
	if !digitsRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}
	if len(sanitized) != 11 {
		return "", ErrInvalidLength
	}
	if !strings.HasPrefix(sanitized, "09") {
		return "", ErrInvalidPrefix
	}
	return sanitized, nil
}

// Sanitize strips separators and rewrites a 63 country code to a leading 0
func (v *ContactValidator) Sanitize(contact string) string {
	contact = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "", ".", "").Replace(contact)

	if strings.HasPrefix(contact, "63") && len(contact) == 12 {
		contact = "0" + contact[2:]
	}
	return contact
}

func (v *ContactValidator) IsValid(contact string) bool {
	_, err := v.Validate(contact)
	return err == nil
}
