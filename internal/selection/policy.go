package selection

import (
	"slices"

	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/target"
)

// DevicesAndTargets is the reconciled answer for one run configuration.
type DevicesAndTargets struct {
	AllDevices      []device.Device `json:"all_devices"`
	IsMultiSelect   bool            `json:"is_multi_select"`
	SelectedTargets []device.Target `json:"selected_targets"`
}

// Equal compares device lists and selected targets in full.
func (d DevicesAndTargets) Equal(o DevicesAndTargets) bool {
	return d.IsMultiSelect == o.IsMultiSelect &&
		device.EqualDevices(d.AllDevices, o.AllDevices) &&
		slices.EqualFunc(d.SelectedTargets, o.SelectedTargets, device.Target.Equal)
}

// TargetIDs returns the references of the selected targets.
func (d DevicesAndTargets) TargetIDs() []device.TargetID {
	return targetIDs(d.SelectedTargets)
}

func targetIDs(targets []device.Target) []device.TargetID {
	out := make([]device.TargetID, len(targets))
	for i, t := range targets {
		out[i] = t.ID()
	}
	return out
}

// ResolveDropdown picks the single selected target from a sorted device list.
//
// The most recently connected device C competes with the stored selection S.
// S wins when it resolves to C itself, or when it was chosen strictly after C
// connected. Otherwise C wins with its default boot option. Without any
// connected device S is used if it resolves, then the first device.
func ResolveDropdown(devices []device.Device, sel *DropdownSelection) (device.Target, bool) {
	var (
		stored   device.Target
		resolved bool
	)
	if sel != nil {
		stored, resolved = target.Resolve(sel.Target, devices)
	}

	c, ok := mostRecentlyConnected(devices)
	if !ok {
		if resolved {
			return stored, true
		}
		if len(devices) > 0 {
			return device.DefaultTarget(devices[0]), true
		}
		return device.Target{}, false
	}

	if resolved && stored.Device.ID == c.ID {
		return stored, true
	}
	if resolved && sel.Timestamp != nil && sel.Timestamp.After(*c.ConnectionTime) {
		return stored, true
	}
	return device.DefaultTarget(c), true
}

func mostRecentlyConnected(devices []device.Device) (device.Device, bool) {
	for _, d := range devices {
		if d.ConnectionTime != nil {
			return d, true
		}
	}
	return device.Device{}, false
}

// ResolveDialog resolves a multi-selection. Unresolved references are dropped.
func ResolveDialog(devices []device.Device, refs []device.TargetID) []device.Target {
	return target.ResolveAll(refs, devices)
}

// Reconcile computes the selected targets for state against a sorted device
// list and returns the state to keep in memory. A dialog selection with no
// resolving reference is downgraded to the dropdown.
func Reconcile(devices []device.Device, state State) (DevicesAndTargets, State) {
	out := DevicesAndTargets{AllDevices: devices, SelectedTargets: []device.Target{}}

	if state.Mode == ModeDialog {
		if targets := ResolveDialog(devices, state.Dialog); len(targets) > 0 {
			out.IsMultiSelect = true
			out.SelectedTargets = targets
			return out, state
		}
		state = state.Clone()
		state.Mode = ModeDropdown
	}

	if t, ok := ResolveDropdown(devices, state.Dropdown); ok {
		out.SelectedTargets = []device.Target{t}
	}
	return out, state
}
