package device

import (
	"maps"
	"slices"
	"time"
)

// Kind classifies how a device exists.
type Kind string

// Device kinds.
const (
	KindPhysical Kind = "physical"
	KindVirtual  Kind = "virtual"
)

// Well-known property keys reported by provisioning sources.
const (
	PropAPILevel = "api_level"
	PropABI      = "abi"
)

// Snapshot is a saved boot image of a virtual device.
type Snapshot struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Device is an immutable snapshot of one selectable device.
//
// A fresh value replaces the previous one whenever any of its inputs change
// (online state, compatibility, snapshots). Devices are never mutated in place;
// use Clone when a modified copy is needed.
//
// Template devices carry their own ID in TemplateID and have IsTemplate set.
// Instances launched from a template carry the template's ID in TemplateID.
type Device struct {
	ID            string            `json:"id"`
	TemplateID    string            `json:"template_id,omitempty"`
	IsTemplate    bool              `json:"is_template"`
	Kind          Kind              `json:"kind"`
	Name          string            `json:"name"`
	Disambiguator string            `json:"disambiguator,omitempty"`
	Online        bool              `json:"online"`
	Properties    map[string]string `json:"properties,omitempty"`
	Snapshots     []Snapshot        `json:"snapshots,omitempty"`
	Compatibility Compatibility     `json:"compatibility"`

	// ConnectionTime is when the device was first observed online since it
	// last went offline. Nil for offline devices and templates.
	ConnectionTime *time.Time `json:"connection_time,omitempty"`
}

// Clone returns an independent copy of the device.
func (d Device) Clone() Device {
	cpy := d
	cpy.Properties = maps.Clone(d.Properties)
	cpy.Snapshots = slices.Clone(d.Snapshots)
	if d.ConnectionTime != nil {
		t := *d.ConnectionTime
		cpy.ConnectionTime = &t
	}
	return cpy
}

// Equal reports whether two device snapshots are identical.
func (d Device) Equal(o Device) bool {
	if d.ID != o.ID ||
		d.TemplateID != o.TemplateID ||
		d.IsTemplate != o.IsTemplate ||
		d.Kind != o.Kind ||
		d.Name != o.Name ||
		d.Disambiguator != o.Disambiguator ||
		d.Online != o.Online ||
		d.Compatibility != o.Compatibility {
		return false
	}
	if !timePtrEqual(d.ConnectionTime, o.ConnectionTime) {
		return false
	}
	return maps.Equal(d.Properties, o.Properties) && slices.Equal(d.Snapshots, o.Snapshots)
}

// HasSnapshot reports whether the device lists the given snapshot.
func (d Device) HasSnapshot(id string) bool {
	return slices.ContainsFunc(d.Snapshots, func(s Snapshot) bool { return s.ID == id })
}

// EqualDevices compares two device lists element by element.
func EqualDevices(a, b []Device) bool {
	return slices.EqualFunc(a, b, Device.Equal)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
