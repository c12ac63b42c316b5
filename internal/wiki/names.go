package wiki

import (
	"fmt"
	"strings"
)

// MaxNameLength is the longest accepted bag or recipe name.
const MaxNameLength = 256

// reservedChars are rejected in user-supplied bag and recipe names. System
// provisioning uses permissive mode, which admits the "$:/..." namespace.
const reservedChars = `/\<>:"|?*`

// ValidateName checks a bag or recipe name. Permissive mode widens the
// allowed character set for system-provisioned names; it still rejects
// oversized names and control characters.
func ValidateName(name string, permissive bool) error {
	if name == "" {
		return fmt.Errorf("name is empty: %w", ErrValidation)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name exceeds %d characters: %w", MaxNameLength, ErrValidation)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("name contains control character: %w", ErrValidation)
		}
	}
	if permissive {
		return nil
	}
	if strings.ContainsAny(name, reservedChars) {
		return fmt.Errorf("name contains reserved character: %w", ErrValidation)
	}
	if strings.HasPrefix(name, "$") {
		return fmt.Errorf("the $ prefix is reserved for system names: %w", ErrValidation)
	}
	return nil
}

// ValidateTitle checks a tiddler title: mandatory, bounded, no control
// characters. Titles may contain any printable character, slashes included.
func ValidateTitle(title string) error {
	if title == "" {
		return fmt.Errorf("title is mandatory: %w", ErrValidation)
	}
	if len(title) > MaxNameLength {
		return fmt.Errorf("title exceeds %d characters: %w", MaxNameLength, ErrValidation)
	}
	for _, r := range title {
		if (r < 0x20 && r != '\t') || r == 0x7f {
			return fmt.Errorf("title contains control character: %w", ErrValidation)
		}
	}
	return nil
}
