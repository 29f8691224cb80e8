package device

import (
	"encoding/json"
	"fmt"
)

// Target is a device paired with the way it should be booted.
type Target struct {
	Device Device     `json:"device"`
	Boot   BootOption `json:"boot"`
}

// DefaultTarget targets d with the default boot option.
func DefaultTarget(d Device) Target {
	return Target{Device: d, Boot: DefaultBoot()}
}

// ID returns the stable reference for the target.
func (t Target) ID() TargetID {
	return TargetID{
		DeviceID:   t.Device.ID,
		TemplateID: t.Device.TemplateID,
		Boot:       t.Boot,
	}
}

// Equal compares device snapshot and boot option.
func (t Target) Equal(o Target) bool {
	return t.Boot == o.Boot && t.Device.Equal(o.Device)
}

// TargetID is the persisted reference to a target.
//
// When DeviceID equals TemplateID the reference names a template rather than a
// concrete device.
type TargetID struct {
	DeviceID   string     `json:"device_id"`
	TemplateID string     `json:"template_id,omitempty"`
	Boot       BootOption `json:"boot"`
}

// NamesTemplate reports whether the reference points at a template.
func (id TargetID) NamesTemplate() bool {
	return id.TemplateID != "" && id.DeviceID == id.TemplateID
}

// Validate checks the reference fields and its boot option.
func (id TargetID) Validate() error {
	if err := ValidateID(id.DeviceID); err != nil {
		return fmt.Errorf("%w: device: %w", ErrInvalidTargetID, err)
	}
	if id.TemplateID != "" {
		if err := ValidateID(id.TemplateID); err != nil {
			return fmt.Errorf("%w: template: %w", ErrInvalidTargetID, err)
		}
	}
	if err := id.Boot.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTargetID, err)
	}
	return nil
}

// String renders the reference for logs.
func (id TargetID) String() string {
	s := id.DeviceID
	if id.TemplateID != "" && !id.NamesTemplate() {
		s += "(" + id.TemplateID + ")"
	}
	return s + "/" + id.Boot.String()
}

// UnmarshalJSON fills in the default boot option when the encoded reference
// carries none.
func (id *TargetID) UnmarshalJSON(data []byte) error {
	type plain TargetID
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Boot.Kind == "" && p.Boot.SnapshotID == "" {
		p.Boot = DefaultBoot()
	}
	*id = TargetID(p)
	return nil
}
