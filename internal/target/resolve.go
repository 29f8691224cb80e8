// Package target resolves persisted target references against the current
// device list.
//
// Resolution is pure: the same reference and device list always give the
// same answer, and a resolved reference resolves to itself.
package target

import "github.com/nerrad567/targetd/internal/device"

// Resolve finds the device ref points at in devices.
//
// A reference to a template prefers a live instance of that template over the
// template itself. A reference to a concrete device that has since gone away
// falls back the same way through its template. The returned target keeps the
// boot option of ref.
func Resolve(ref device.TargetID, devices []device.Device) (device.Target, bool) {
	if !ref.NamesTemplate() {
		if d, ok := findByID(devices, ref.DeviceID); ok {
			return device.Target{Device: d, Boot: ref.Boot}, true
		}
		if ref.TemplateID == "" {
			return device.Target{}, false
		}
	}

	if d, ok := liveInstance(devices, ref.TemplateID); ok {
		return device.Target{Device: d, Boot: ref.Boot}, true
	}
	if d, ok := templateDevice(devices, ref.TemplateID); ok {
		return device.Target{Device: d, Boot: ref.Boot}, true
	}
	return device.Target{}, false
}

// ResolveAll resolves each reference independently. Unresolved references are
// dropped and references resolving to the same target are collapsed, keeping
// the first occurrence.
func ResolveAll(refs []device.TargetID, devices []device.Device) []device.Target {
	out := make([]device.Target, 0, len(refs))
	seen := make(map[device.TargetID]struct{}, len(refs))
	for _, ref := range refs {
		t, ok := Resolve(ref, devices)
		if !ok {
			continue
		}
		id := t.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, t)
	}
	return out
}

func findByID(devices []device.Device, id string) (device.Device, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return device.Device{}, false
}

// liveInstance returns the first online instance of templateID, or the first
// offline one when none is online.
func liveInstance(devices []device.Device, templateID string) (device.Device, bool) {
	var (
		fallback device.Device
		found    bool
	)
	for _, d := range devices {
		if d.IsTemplate || d.TemplateID != templateID {
			continue
		}
		if d.Online {
			return d, true
		}
		if !found {
			fallback, found = d, true
		}
	}
	return fallback, found
}

func templateDevice(devices []device.Device, templateID string) (device.Device, bool) {
	for _, d := range devices {
		if d.IsTemplate && d.ID == templateID {
			return d, true
		}
	}
	return device.Device{}, false
}
