package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidatePersonName checks a first or last name.
func ValidatePersonName(field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if utf8.RuneCountInString(value) > MaxNameLength {
		return fmt.Errorf("%s must be at most %d characters", field, MaxNameLength)
	}
	if hasControl(value, false) {
		return fmt.Errorf("%s cannot contain control characters", field)
	}
	return nil
}

// ValidateEmailDomain requires email to belong to domain. An empty domain allows any.
func ValidateEmailDomain(email, domain string) error {
	if domain == "" {
		return nil
	}
	at := strings.LastIndex(email, "@")
	if at < 0 || !strings.EqualFold(email[at+1:], domain) {
		return fmt.Errorf("sign-up is restricted to @%s addresses", domain)
	}
	return nil
}
