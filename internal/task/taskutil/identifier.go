package taskutil

import (
	"fmt"
	"strings"
)

// ValidateIdentifier rejects names that would need quoting in a shell or
// netplan document.
func ValidateIdentifier(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}
	if strings.TrimSpace(value) != value {
		return fmt.Errorf("%s name %q has leading/trailing whitespace", kind, value)
	}
	for _, r := range value {
		if !isSafeNameRune(r) {
			return fmt.Errorf("%s name %q contains invalid character %q", kind, value, r)
		}
	}
	return nil
}

func isSafeNameRune(r rune) bool {
	return r >= 'a' && r <= 'z' ||
		r >= 'A' && r <= 'Z' ||
		r >= '0' && r <= '9' ||
		r == '-' || r == '_' || r == '.'
}
