package device

import (
	"encoding/json"
	"fmt"
)

// CompatibilityState is the launch-compatibility verdict of a device for the
// active run configuration. Values are ordered by severity.
type CompatibilityState int

// Compatibility verdicts, least severe first.
const (
	CompatibilityOK CompatibilityState = iota
	CompatibilityWarning
	CompatibilityError
)

// String returns the lower-case name of the verdict.
func (s CompatibilityState) String() string {
	switch s {
	case CompatibilityOK:
		return "ok"
	case CompatibilityWarning:
		return "warning"
	case CompatibilityError:
		return "error"
	default:
		return fmt.Sprintf("compatibility(%d)", int(s))
	}
}

// MarshalJSON encodes the verdict as its name.
func (s CompatibilityState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a verdict name.
func (s *CompatibilityState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "ok":
		*s = CompatibilityOK
	case "warning":
		*s = CompatibilityWarning
	case "error":
		*s = CompatibilityError
	default:
		return fmt.Errorf("device: unknown compatibility state %q", name)
	}
	return nil
}

// Compatibility is the result of evaluating a device against a run configuration.
type Compatibility struct {
	State  CompatibilityState `json:"state"`
	Reason string             `json:"reason,omitempty"`
}

// Compatible is the OK verdict without a reason.
var Compatible = Compatibility{State: CompatibilityOK}
