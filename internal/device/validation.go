package device

import (
	"fmt"
	"strings"
)

// maxIDLength bounds device and template IDs accepted from external sources.
const maxIDLength = 256

// ValidateID checks that an ID is non-empty, bounded and free of control characters.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, maxIDLength)
	}
	if strings.ContainsFunc(id, func(r rune) bool { return r < 0x20 || r == 0x7f }) {
		return fmt.Errorf("%w: contains control characters", ErrInvalidID)
	}
	return nil
}

// ValidateDevice checks the identity fields of a device snapshot.
func ValidateDevice(d Device) error {
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if d.TemplateID != "" {
		if err := ValidateID(d.TemplateID); err != nil {
			return fmt.Errorf("template: %w", err)
		}
	}
	if d.IsTemplate && d.TemplateID != d.ID {
		return fmt.Errorf("%w: template %q must carry its own id as template id", ErrInvalidID, d.ID)
	}
	switch d.Kind {
	case KindPhysical, KindVirtual:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, d.Kind)
	}
	return nil
}
