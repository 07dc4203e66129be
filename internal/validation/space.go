// Package validation holds input rules shared by the service and HTTP layers.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxSpaceNameLength   = 80
	MaxDescriptionLength = 500
	MaxMessageLength     = 10000
	MaxNameLength        = 100
)

// hasControl reports whether s holds a control character. Multi-line text
// may keep line breaks and tabs.
func hasControl(s string, multiline bool) bool {
	return strings.ContainsFunc(s, func(r rune) bool {
		if multiline && (r == '\n' || r == '\r' || r == '\t') {
			return false
		}
		return unicode.IsControl(r)
	})
}

// NormalizeSpaceName trims and collapses inner whitespace.
func NormalizeSpaceName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// ValidateSpaceName checks a normalized space name.
func ValidateSpaceName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < 2 || n > MaxSpaceNameLength {
		return fmt.Errorf("space name must be 2-%d characters", MaxSpaceNameLength)
	}
	if hasControl(name, false) {
		return fmt.Errorf("space name cannot contain control characters")
	}
	return nil
}

// ValidateDescription checks a space description.
func ValidateDescription(description string) error {
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return fmt.Errorf("description must be at most %d characters", MaxDescriptionLength)
	}
	if hasControl(description, true) {
		return fmt.Errorf("description cannot contain control characters")
	}
	return nil
}

// ValidateMessageText checks message text after trimming.
func ValidateMessageText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return fmt.Errorf("message must be at most %d characters", MaxMessageLength)
	}
	if hasControl(text, true) {
		return fmt.Errorf("message cannot contain control characters")
	}
	return nil
}
