package selection

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/targetd/internal/device"
)

// Mode is how the user is selecting targets for a run configuration.
type Mode string

// Selection modes.
const (
	ModeDropdown Mode = "dropdown"
	ModeDialog   Mode = "dialog"
)

// DropdownSelection is a single chosen target and when it was chosen.
type DropdownSelection struct {
	Target    device.TargetID `json:"target"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// State is the selection intent of one run configuration.
type State struct {
	Mode     Mode               `json:"mode"`
	Dropdown *DropdownSelection `json:"dropdown,omitempty"`
	Dialog   []device.TargetID  `json:"dialog,omitempty"`
}

// Clone returns an independent copy.
func (s State) Clone() State {
	out := State{Mode: s.Mode, Dialog: slices.Clone(s.Dialog)}
	if s.Dropdown != nil {
		dd := *s.Dropdown
		if dd.Timestamp != nil {
			ts := *dd.Timestamp
			dd.Timestamp = &ts
		}
		out.Dropdown = &dd
	}
	return out
}

// Equal compares two states.
func (s State) Equal(o State) bool {
	if s.Mode != o.Mode || !slices.Equal(s.Dialog, o.Dialog) {
		return false
	}
	if s.Dropdown == nil || o.Dropdown == nil {
		return s.Dropdown == nil && o.Dropdown == nil
	}
	if s.Dropdown.Target != o.Dropdown.Target {
		return false
	}
	a, b := s.Dropdown.Timestamp, o.Dropdown.Timestamp
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (s State) validate() error {
	switch s.Mode {
	case ModeDropdown, ModeDialog:
	default:
		return fmt.Errorf("unknown mode %q", s.Mode)
	}
	if s.Dropdown != nil {
		if err := s.Dropdown.Target.Validate(); err != nil {
			return fmt.Errorf("dropdown: %w", err)
		}
	}
	for i, id := range s.Dialog {
		if err := id.Validate(); err != nil {
			return fmt.Errorf("dialog[%d]: %w", i, err)
		}
	}
	return nil
}

// Encode serialises a state for storage.
func Encode(s State) ([]byte, error) {
	if s.Mode == "" {
		s.Mode = ModeDropdown
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("encoding selection state: %w", err)
	}
	return json.Marshal(s)
}

// Decode parses stored state. Data that is structurally corrupt anywhere is
// rejected as a whole with ErrCorruptState; nothing is partially trusted.
func Decode(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	if s.Mode == "" {
		s.Mode = ModeDropdown
	}
	if err := s.validate(); err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	return s, nil
}
