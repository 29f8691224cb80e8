package device

import (
	"cmp"
	"slices"
)

// Compare orders two devices for presentation and for the selection policy:
// least severe compatibility first, then the most recent connection (devices
// without a connection time last), then name, disambiguator and ID.
//
// The order is total over devices with distinct IDs.
func Compare(a, b Device) int {
	if c := cmp.Compare(a.Compatibility.State, b.Compatibility.State); c != 0 {
		return c
	}
	switch {
	case a.ConnectionTime != nil && b.ConnectionTime == nil:
		return -1
	case a.ConnectionTime == nil && b.ConnectionTime != nil:
		return 1
	case a.ConnectionTime != nil && b.ConnectionTime != nil:
		// Newest first.
		if c := b.ConnectionTime.Compare(*a.ConnectionTime); c != 0 {
			return c
		}
	}
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Disambiguator, b.Disambiguator); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Sort orders devices in place with Compare.
func Sort(devices []Device) {
	slices.SortFunc(devices, Compare)
}
